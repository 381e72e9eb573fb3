package tinysse

// Value is the recursive tagged form used at the host/script boundary: every
// hook argument and return value passes through Value before it is coerced
// into a typed record (Message, PublishCtx, SubscribeCtx) or handed to the
// scripting runtime.
//
// Exactly one of the typed fields is meaningful for a given Kind. Seq and
// Map hold nested Values so arbitrarily deep script tables round-trip
// without loss.
type Value struct {
	Kind ValueKind

	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Bytes   []byte
	Seq     []Value
	Map     map[string]Value
	Foreign any // opaque handle for host-only values (e.g. a mutex, an agent)
}

// ValueKind discriminates the active field of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSeq
	KindMap
	KindForeign
)

// Null is the canonical null Value.
var Null = Value{Kind: KindNull}

func BoolValue(b bool) Value    { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value    { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BytesValue(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }
func SeqValue(vs []Value) Value { return Value{Kind: KindSeq, Seq: vs} }
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func ForeignValue(v any) Value  { return Value{Kind: KindForeign, Foreign: v} }

// IsNil reports whether v is the null Value. script.FromLua produces it for
// Lua nil; a json.null sentinel arrives as a KindForeign value and is not
// reported as nil.
func (v Value) IsNil() bool { return v.Kind == KindNull }

// StringOr returns v's string form, or def if v isn't a string.
func (v Value) StringOr(def string) string {
	if v.Kind == KindString {
		return v.Str
	}
	return def
}

// Get looks up a key in a Map-kind Value, returning Null if absent or if v
// isn't a Map.
func (v Value) Get(key string) Value {
	if v.Kind != KindMap || v.Map == nil {
		return Null
	}
	if got, ok := v.Map[key]; ok {
		return got
	}
	return Null
}
