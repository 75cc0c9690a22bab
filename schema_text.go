package binschema

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/latticeware/binschema/expr"
)

// ParseSchema decodes a JSON-tagged document into a Type tree. Every
// node is an object with a required "type" key naming one of the tags
// below and case-specific sibling keys; any key not recognized for that
// tag is a SchemaError rather than being silently ignored.
func ParseSchema(text []byte) (*Type, error) {
	var raw any
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, newErr(ErrSchema, "invalid JSON: %v", err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "schema node must be a JSON object")
	}
	return parseNode(m)
}

func parseNode(m map[string]any) (*Type, error) {
	tag, ok := m["type"].(string)
	if !ok {
		return nil, newErr(ErrSchema, "schema node is missing its \"type\" string key")
	}
	switch tag {
	case "Uint8", "Uint16", "Uint32", "Uint64", "Int8", "Int16", "Int32", "Int64":
		return parseIntegerNode(tag, m)
	case "Float32", "Float64":
		return parseFloatNode(tag, m)
	case "Bin":
		return parseBinNode(m)
	case "String":
		return parseStringNode(m)
	case "Magic":
		return parseMagicNode(m)
	case "Struct":
		return parseStructNode(m)
	case "Array":
		return parseArrayNode(m)
	case "Enum":
		return parseEnumNode(m)
	case "Checksum":
		return parseChecksumNode(m)
	case "Converter":
		return parseConverterNode(m)
	case "Encrypt":
		return parseEncryptNode(m)
	case "Sign":
		return parseSignNode(m)
	default:
		return nil, newErr(ErrSchema, "unrecognized schema type tag %q", tag)
	}
}

func requireKeys(m map[string]any, allowed ...string) error {
	set := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		set[k] = true
	}
	set["type"] = true
	for k := range m {
		if !set[k] {
			return newErr(ErrSchema, "unrecognized key %q for schema node type %v", k, m["type"])
		}
	}
	return nil
}

func parseEndian(m map[string]any) (Endian, error) {
	raw, ok := m["endian"]
	if !ok {
		return BigEndian, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, newErr(ErrSchema, "\"endian\" must be a string")
	}
	switch s {
	case "big":
		return BigEndian, nil
	case "little":
		return LittleEndian, nil
	default:
		return 0, newErr(ErrSchema, "unrecognized endian %q", s)
	}
}

func parseIntegerNode(tag string, m map[string]any) (*Type, error) {
	if err := requireKeys(m, "endian"); err != nil {
		return nil, err
	}
	endian, err := parseEndian(m)
	if err != nil {
		return nil, err
	}
	var t *Type
	switch tag {
	case "Uint8":
		t = Uint8()
	case "Uint16":
		t = Uint16()
	case "Uint32":
		t = Uint32()
	case "Uint64":
		t = Uint64()
	case "Int8":
		t = Int8()
	case "Int16":
		t = Int16()
	case "Int32":
		t = Int32()
	case "Int64":
		t = Int64()
	}
	t.Endian = endian
	return t, nil
}

func parseFloatNode(tag string, m map[string]any) (*Type, error) {
	if err := requireKeys(m, "endian"); err != nil {
		return nil, err
	}
	endian, err := parseEndian(m)
	if err != nil {
		return nil, err
	}
	var t *Type
	if tag == "Float32" {
		t = Float32Type()
	} else {
		t = Float64Type()
	}
	t.Endian = endian
	return t, nil
}

func parseSizeExpr(v any) (*SizeExpr, error) {
	switch x := v.(type) {
	case float64:
		return LiteralSize(int64(x)), nil
	case string:
		return CompiledSize(x)
	default:
		return nil, newErr(ErrSchema, "size must be a JSON number or string, got %T", v)
	}
}

func parseBinNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "size"); err != nil {
		return nil, err
	}
	sizeRaw, ok := m["size"]
	if !ok {
		return nil, newErr(ErrSchema, "Bin requires a \"size\" key")
	}
	size, err := parseSizeExpr(sizeRaw)
	if err != nil {
		return nil, err
	}
	return BinType(size), nil
}

func parseStringNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "size", "encoding"); err != nil {
		return nil, err
	}
	sizeRaw, ok := m["size"]
	if !ok {
		return nil, newErr(ErrSchema, "String requires a \"size\" key")
	}
	size, err := parseSizeExpr(sizeRaw)
	if err != nil {
		return nil, err
	}
	encoding, _ := m["encoding"].(string)
	if encoding == "" {
		encoding = "utf-8"
	}
	if encoding != "utf-8" && encoding != "ascii" {
		return nil, newErr(ErrEncoding, "unsupported string encoding %q", encoding)
	}
	return StringType(size, encoding), nil
}

func parseMagicNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "magic"); err != nil {
		return nil, err
	}
	s, ok := m["magic"].(string)
	if !ok {
		return nil, newErr(ErrSchema, "Magic requires a \"magic\" hex string key")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, newErr(ErrSchema, "\"magic\" is not valid hex: %v", err)
	}
	return MagicType(b), nil
}

func parseStructNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "fields"); err != nil {
		return nil, err
	}
	rawFields, ok := m["fields"].([]any)
	if !ok {
		return nil, newErr(ErrSchema, "Struct requires a \"fields\" array")
	}
	fields := make([]FieldDef, 0, len(rawFields))
	for i, rf := range rawFields {
		fm, ok := rf.(map[string]any)
		if !ok {
			return nil, newErr(ErrSchema, "fields[%d] must be an object", i)
		}
		name, ok := fm["name"].(string)
		if !ok {
			return nil, newErr(ErrSchema, "fields[%d] is missing a \"name\" string", i)
		}
		typeRaw, ok := fm["type"]
		if !ok {
			return nil, newErr(ErrSchema, "fields[%d] (%q) is missing a \"type\" node", i, name)
		}
		typeM, ok := typeRaw.(map[string]any)
		if !ok {
			return nil, newErr(ErrSchema, "fields[%d] (%q): \"type\" must be an object", i, name)
		}
		ft, err := parseNode(typeM)
		if err != nil {
			return nil, wrapPath(err, fieldElem(name))
		}
		fields = append(fields, FieldDef{Name: name, Type: ft})
	}
	return StructType(fields...), nil
}

func parseArrayNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "element_type", "size", "length"); err != nil {
		return nil, err
	}
	elemRaw, ok := m["element_type"]
	if !ok {
		return nil, newErr(ErrSchema, "Array requires an \"element_type\" node")
	}
	elemM, ok := elemRaw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "\"element_type\" must be an object")
	}
	elem, err := parseNode(elemM)
	if err != nil {
		return nil, err
	}
	var size, length *SizeExpr
	if sizeRaw, ok := m["size"]; ok {
		if size, err = parseSizeExpr(sizeRaw); err != nil {
			return nil, err
		}
	}
	if lenRaw, ok := m["length"]; ok {
		if length, err = parseSizeExpr(lenRaw); err != nil {
			return nil, err
		}
	}
	if size == nil && length == nil {
		return nil, newErr(ErrSchema, "Array requires at least one of \"size\" or \"length\"")
	}
	return ArrayType(elem, size, length), nil
}

func parseEnumNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "by", "map"); err != nil {
		return nil, err
	}
	by, ok := m["by"].(string)
	if !ok {
		return nil, newErr(ErrSchema, "Enum requires a \"by\" field name string")
	}
	rawMap, ok := m["map"].(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "Enum requires a \"map\" object")
	}
	cases := make(map[string]*Type, len(rawMap))
	for key, caseRaw := range rawMap {
		caseM, ok := caseRaw.(map[string]any)
		if !ok {
			return nil, newErr(ErrSchema, "Enum case %q must be an object", key)
		}
		ct, err := parseNode(caseM)
		if err != nil {
			return nil, wrapPath(err, fieldElem(key))
		}
		cases[key] = ct
	}
	return EnumType(by, cases), nil
}

func parseChecksumMethod(s string) (ChecksumMethod, error) {
	switch s {
	case "Sum8":
		return Sum8, nil
	case "Sum16":
		return Sum16, nil
	case "Sum32":
		return Sum32, nil
	case "Xor8":
		return Xor8, nil
	case "Complement":
		return Complement, nil
	case "Crc32":
		return Crc32, nil
	default:
		return 0, newErr(ErrSchema, "unrecognized checksum method %q", s)
	}
}

func parseChecksumNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "method", "start_key", "end_key", "target_key"); err != nil {
		return nil, err
	}
	methodStr, _ := m["method"].(string)
	method, err := parseChecksumMethod(methodStr)
	if err != nil {
		return nil, err
	}
	startKey, _ := m["start_key"].(string)
	endKey, _ := m["end_key"].(string)
	targetKey, _ := m["target_key"].(string)
	if startKey == "" || endKey == "" || targetKey == "" {
		return nil, newErr(ErrSchema, "Checksum requires \"start_key\", \"end_key\", and \"target_key\"")
	}
	return ChecksumType(method, startKey, endKey, targetKey), nil
}

func parseConverterSpec(raw any) (*ConverterSpec, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "converter direction must be an object")
	}
	spec := &ConverterSpec{}
	for key, dst := range map[string]**expr.Expr{
		"before_valid": &spec.BeforeValid,
		"convert":      &spec.Convert,
		"after_valid":  &spec.AfterValid,
	} {
		v, ok := m[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, newErr(ErrSchema, "converter key %q must be a string expression", key)
		}
		e, err := expr.Parse(s)
		if err != nil {
			return nil, newErr(ErrSchema, "converter key %q: %v", key, err)
		}
		*dst = e
	}
	return spec, nil
}

func parseConverterNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "original_type", "on_read", "on_write"); err != nil {
		return nil, err
	}
	origRaw, ok := m["original_type"]
	if !ok {
		return nil, newErr(ErrSchema, "Converter requires an \"original_type\" node")
	}
	origM, ok := origRaw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "\"original_type\" must be an object")
	}
	orig, err := parseNode(origM)
	if err != nil {
		return nil, err
	}
	onRead, err := parseConverterSpec(m["on_read"])
	if err != nil {
		return nil, err
	}
	onWrite, err := parseConverterSpec(m["on_write"])
	if err != nil {
		return nil, err
	}
	return ConverterType(orig, onRead, onWrite), nil
}

func parseEncryptNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "inner", "key", "size"); err != nil {
		return nil, err
	}
	innerRaw, ok := m["inner"]
	if !ok {
		return nil, newErr(ErrSchema, "Encrypt requires an \"inner\" node")
	}
	innerM, ok := innerRaw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "\"inner\" must be an object")
	}
	inner, err := parseNode(innerM)
	if err != nil {
		return nil, err
	}
	keyName, _ := m["key"].(string)
	if keyName == "" {
		return nil, newErr(ErrSchema, "Encrypt requires a \"key\" name string")
	}
	sizeRaw, ok := m["size"]
	if !ok {
		return nil, newErr(ErrSchema, "Encrypt requires a \"size\" key")
	}
	size, err := parseSizeExpr(sizeRaw)
	if err != nil {
		return nil, err
	}
	return EncryptType(inner, keyName, size), nil
}

func parseSignNode(m map[string]any) (*Type, error) {
	if err := requireKeys(m, "inner", "hasher", "signature_key", "signature_position"); err != nil {
		return nil, err
	}
	innerRaw, ok := m["inner"]
	if !ok {
		return nil, newErr(ErrSchema, "Sign requires an \"inner\" node")
	}
	innerM, ok := innerRaw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "\"inner\" must be an object")
	}
	inner, err := parseNode(innerM)
	if err != nil {
		return nil, err
	}
	hasherName, _ := m["hasher"].(string)
	signatureKey, _ := m["signature_key"].(string)
	if hasherName == "" || signatureKey == "" {
		return nil, newErr(ErrSchema, "Sign requires \"hasher\" and \"signature_key\"")
	}
	posRaw, ok := m["signature_position"]
	if !ok {
		return nil, newErr(ErrSchema, "Sign requires a \"signature_position\" object")
	}
	posM, ok := posRaw.(map[string]any)
	if !ok {
		return nil, newErr(ErrSchema, "\"signature_position\" must be an object")
	}
	startKey, _ := posM["start_key"].(string)
	endKey, _ := posM["end_key"].(string)
	if startKey == "" || endKey == "" {
		return nil, newErr(ErrSchema, "\"signature_position\" requires \"start_key\" and \"end_key\"")
	}
	return SignType(inner, hasherName, startKey, endKey, signatureKey), nil
}

// EmitSchema renders t back into the JSON-tagged document form ParseSchema
// accepts.
func EmitSchema(t *Type) ([]byte, error) {
	node, err := emitNode(t)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(node, "", "  ")
}

func emitEndian(t *Type, m map[string]any) {
	if t.Endian == LittleEndian {
		m["endian"] = "little"
	}
}

func emitSizeExpr(s *SizeExpr) any {
	if n, ok := s.literalOrZero(); ok {
		return n
	}
	return s.String()
}

func emitConverterSpec(spec *ConverterSpec) map[string]any {
	if spec == nil {
		return nil
	}
	m := map[string]any{}
	if spec.BeforeValid != nil {
		m["before_valid"] = spec.BeforeValid.String()
	}
	if spec.Convert != nil {
		m["convert"] = spec.Convert.String()
	}
	if spec.AfterValid != nil {
		m["after_valid"] = spec.AfterValid.String()
	}
	return m
}

func emitNode(t *Type) (map[string]any, error) {
	switch t.Kind {
	case KindNumeric:
		tag, err := numericTag(t)
		if err != nil {
			return nil, err
		}
		m := map[string]any{"type": tag}
		emitEndian(t, m)
		return m, nil
	case KindBinType:
		return map[string]any{"type": "Bin", "size": emitSizeExpr(t.Size)}, nil
	case KindStringType:
		return map[string]any{"type": "String", "size": emitSizeExpr(t.Size), "encoding": t.Encoding}, nil
	case KindMagicType:
		return map[string]any{"type": "Magic", "magic": hex.EncodeToString(t.Magic)}, nil
	case KindStructType:
		fields := make([]any, 0, len(t.Fields))
		for _, fd := range t.Fields {
			fm, err := emitNode(fd.Type)
			if err != nil {
				return nil, err
			}
			fields = append(fields, map[string]any{"name": fd.Name, "type": fm})
		}
		return map[string]any{"type": "Struct", "fields": fields}, nil
	case KindArrayType:
		elem, err := emitNode(t.Element)
		if err != nil {
			return nil, err
		}
		m := map[string]any{"type": "Array", "element_type": elem}
		if t.ArraySize != nil {
			m["size"] = emitSizeExpr(t.ArraySize)
		}
		if t.ArrayLen != nil {
			m["length"] = emitSizeExpr(t.ArrayLen)
		}
		return m, nil
	case KindEnumType:
		cases := map[string]any{}
		keys := make([]string, 0, len(t.Map))
		for k := range t.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cm, err := emitNode(t.Map[k])
			if err != nil {
				return nil, err
			}
			cases[k] = cm
		}
		return map[string]any{"type": "Enum", "by": t.By, "map": cases}, nil
	case KindChecksumType:
		return map[string]any{
			"type": "Checksum", "method": t.Method.String(),
			"start_key": t.StartKey, "end_key": t.EndKey, "target_key": t.TargetKey,
		}, nil
	case KindConverterType:
		orig, err := emitNode(t.Original)
		if err != nil {
			return nil, err
		}
		m := map[string]any{"type": "Converter", "original_type": orig}
		if onRead := emitConverterSpec(t.OnRead); onRead != nil {
			m["on_read"] = onRead
		}
		if onWrite := emitConverterSpec(t.OnWrite); onWrite != nil {
			m["on_write"] = onWrite
		}
		return m, nil
	case KindEncryptType:
		inner, err := emitNode(t.Inner)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"type": "Encrypt", "inner": inner, "key": t.KeyName, "size": emitSizeExpr(t.EncryptSize),
		}, nil
	case KindSignType:
		inner, err := emitNode(t.Inner)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"type": "Sign", "inner": inner, "hasher": t.HasherName, "signature_key": t.SignatureKey,
			"signature_position": map[string]any{"start_key": t.SignStartKey, "end_key": t.SignEndKey},
		}, nil
	default:
		return nil, newErr(ErrSchema, "unknown type kind %d", t.Kind)
	}
}

func numericTag(t *Type) (string, error) {
	if t.IsFloat {
		switch t.BitWidth {
		case 32:
			return "Float32", nil
		case 64:
			return "Float64", nil
		}
		return "", newErr(ErrSchema, "invalid float width %d", t.BitWidth)
	}
	prefix := "Uint"
	if t.Signed {
		prefix = "Int"
	}
	return fmt.Sprintf("%s%d", prefix, t.BitWidth), nil
}
