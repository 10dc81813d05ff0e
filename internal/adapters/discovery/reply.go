package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"unicode/utf8"
)

// Reply field tags, in the order the server sends them.
const (
	TagHostname = "ENAME"
	TagPort     = "JSON"
	TagUUID     = "UUID"
	TagVersion  = "VERS"
)

// Probe is the broadcast query: "e" followed by each requested tag with an
// empty value.
var Probe = []byte("eNAME\x00JSON\x00UUID\x00VERS\x00")

// ErrMalformedReply is returned for any reply that does not follow the
// tag/length/value layout.
var ErrMalformedReply = errors.New("malformed discovery reply")

// Reply describes a control server that answered a probe.
type Reply struct {
	// Addr is the datagram's source address, not anything from the payload.
	Addr     net.IP
	Hostname string
	Port     uint16
	UUID     string
	Version  string
}

// Host returns the server address, preferring the datagram source.
func (r Reply) Host() string {
	if r.Addr != nil {
		return r.Addr.String()
	}
	return r.Hostname
}

// Endpoint returns host:port for the control API.
func (r Reply) Endpoint() string {
	return net.JoinHostPort(r.Host(), strconv.Itoa(int(r.Port)))
}

// ParseReply decodes a reply datagram. Bytes after the version field are
// ignored so a zero-padded receive buffer parses cleanly.
func ParseReply(buf []byte) (Reply, error) {
	r := reader{buf: buf}
	hostname, err := r.field(TagHostname)
	if err != nil {
		return Reply{}, err
	}
	portText, err := r.field(TagPort)
	if err != nil {
		return Reply{}, err
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: port %q: %v", ErrMalformedReply, portText, err)
	}
	uuid, err := r.field(TagUUID)
	if err != nil {
		return Reply{}, err
	}
	version, err := r.field(TagVersion)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Hostname: hostname,
		Port:     uint16(port),
		UUID:     uuid,
		Version:  version,
	}, nil
}

// EncodeReply builds a reply datagram. Values longer than 255 bytes are
// rejected.
func EncodeReply(hostname string, port uint16, uuid string, version string) ([]byte, error) {
	var out bytes.Buffer
	fields := []struct{ tag, value string }{
		{TagHostname, hostname},
		{TagPort, strconv.Itoa(int(port))},
		{TagUUID, uuid},
		{TagVersion, version},
	}
	for _, f := range fields {
		if len(f.value) > 255 {
			return nil, fmt.Errorf("%s value too long: %d bytes", f.tag, len(f.value))
		}
		out.WriteString(f.tag)
		out.WriteByte(byte(len(f.value)))
		out.WriteString(f.value)
	}
	return out.Bytes(), nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) field(tag string) (string, error) {
	rest := r.buf[r.off:]
	if !bytes.HasPrefix(rest, []byte(tag)) {
		return "", fmt.Errorf("%w: expected tag %s at offset %d", ErrMalformedReply, tag, r.off)
	}
	pos := len(tag)
	if pos >= len(rest) {
		return "", fmt.Errorf("%w: %s length missing", ErrMalformedReply, tag)
	}
	size := int(rest[pos])
	pos++
	if pos+size > len(rest) {
		return "", fmt.Errorf("%w: %s declares %d bytes, %d available", ErrMalformedReply, tag, size, len(rest)-pos)
	}
	value := rest[pos : pos+size]
	if !utf8.Valid(value) {
		return "", fmt.Errorf("%w: %s value is not utf-8", ErrMalformedReply, tag)
	}
	r.off += pos + size
	return string(value), nil
}
