package lms

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRequestEncoding(t *testing.T) {
	req, key := ShuffleRequest("00:11:22:33:44:55")
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"method":"slim.request","params":["00:11:22:33:44:55",["playlist","shuffle","?"]]}`
	if string(payload) != want {
		t.Fatalf("unexpected body %s", payload)
	}
	if key.Name != "shuffle" || !key.Queried {
		t.Fatalf("unexpected key %+v", key)
	}
}

func TestServerGlobalRequestHasEmptyTarget(t *testing.T) {
	req, key := PlayersRequest()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"method":"slim.request","params":["",["players","0"]]}` {
		t.Fatalf("unexpected body %s", payload)
	}
	if key.Queried {
		t.Fatalf("collection keys are matched verbatim")
	}
}

func TestCommandRequests(t *testing.T) {
	tests := []struct {
		req  Request
		want []string
	}{
		{PlayRequest("p"), []string{"play"}},
		{StopRequest("p"), []string{"stop"}},
		{PauseRequest("p"), []string{"pause", "1"}},
		{PlayPauseRequest("p"), []string{"pause"}},
		{PreviousRequest("p"), []string{"playlist", "index", "-1"}},
		{NextRequest("p"), []string{"playlist", "index", "+1"}},
	}
	for _, test := range tests {
		if test.req.Params.Target != "p" {
			t.Fatalf("expected target p, got %q", test.req.Params.Target)
		}
		if !reflect.DeepEqual(test.req.Params.Tokens, test.want) {
			t.Fatalf("expected %v got %v", test.want, test.req.Params.Tokens)
		}
	}
}

func TestBuildersDoNotShareTokens(t *testing.T) {
	a := PreviousRequest("p")
	b := NextRequest("p")
	if a.Params.Tokens[2] != "-1" || b.Params.Tokens[2] != "+1" {
		t.Fatalf("token slices aliased: %v %v", a.Params.Tokens, b.Params.Tokens)
	}
}

func TestResponseDecoding(t *testing.T) {
	body := []byte(`{"method":"slim.request","params":["p",["mode","?"]],"result":{"_mode":"play"}}`)
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Params.Target != "p" || len(resp.Params.Tokens) != 2 {
		t.Fatalf("unexpected params %+v", resp.Params)
	}
	v, name, ok, err := resp.Lookup(KeyAuto, Key{Name: "mode", Queried: true})
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if name != "_mode" {
		t.Fatalf("expected _mode, got %s", name)
	}
	if s, _ := v.Str(); s != "play" {
		t.Fatalf("unexpected value %v", v)
	}
}

func TestLookupKeyStyles(t *testing.T) {
	plain := Response{Result: Object(map[string]Value{"mode": String("stop")})}
	underscored := Response{Result: Object(map[string]Value{"_mode": String("stop")})}
	key := Key{Name: "mode", Queried: true}

	tests := []struct {
		name  string
		resp  Response
		style KeyStyle
		found bool
	}{
		{"auto plain", plain, KeyAuto, true},
		{"auto underscore", underscored, KeyAuto, true},
		{"underscore on plain", plain, KeyUnderscore, false},
		{"underscore on underscore", underscored, KeyUnderscore, true},
		{"plain on plain", plain, KeyPlain, true},
		{"plain on underscore", underscored, KeyPlain, false},
	}
	for _, test := range tests {
		_, _, ok, err := test.resp.Lookup(test.style, key)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if ok != test.found {
			t.Fatalf("%s: expected found=%v", test.name, test.found)
		}
	}
}

func TestLookupRejectsNonObject(t *testing.T) {
	resp := Response{Result: Array()}
	_, _, _, err := resp.Lookup(KeyAuto, Key{Name: "mode", Queried: true})
	if !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject, got %v", err)
	}
}

func TestParseKeyStyle(t *testing.T) {
	for in, want := range map[string]KeyStyle{"": KeyAuto, "auto": KeyAuto, "Underscore": KeyUnderscore, "plain": KeyPlain} {
		got, err := ParseKeyStyle(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %v got %v", in, want, got)
		}
	}
	if _, err := ParseKeyStyle("dotted"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValueKinds(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1,"b":"x","c":[true,null],"d":{}}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	obj, ok := v.Object()
	if !ok {
		t.Fatalf("expected object")
	}
	if n, ok := obj["a"].Number(); !ok || n.String() != "1" {
		t.Fatalf("expected number 1")
	}
	if obj["b"].Kind() != KindString {
		t.Fatalf("expected string")
	}
	arr, ok := obj["c"].Array()
	if !ok || len(arr) != 2 || arr[0].Kind() != KindBool || arr[1].Kind() != KindNull {
		t.Fatalf("unexpected array %v", obj["c"])
	}
	if obj["d"].Kind() != KindObject {
		t.Fatalf("expected object")
	}
}

func TestValueDecode(t *testing.T) {
	v := Array(Object(map[string]Value{
		"name":     String("Kitchen"),
		"playerid": String("aa:bb"),
	}))
	var players []Player
	if err := v.Decode(&players); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(players) != 1 || players[0].Name != "Kitchen" || players[0].ID != "aa:bb" {
		t.Fatalf("unexpected players %+v", players)
	}
}
