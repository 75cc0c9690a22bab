package binschema

import "github.com/latticeware/binschema/expr"

// TypeKind is the tag of a schema [Type] node.
type TypeKind uint8

const (
	KindNumeric TypeKind = iota // fixed-width integer or float
	KindBinType
	KindStringType
	KindMagicType
	KindStructType
	KindArrayType
	KindEnumType
	KindChecksumType
	KindConverterType
	KindEncryptType
	KindSignType
)

// Endian selects byte order for a numeric node. Not present in the
// distilled spec; added as a per-node extension point (see
// SPEC_FULL.md, "Supplemented Features") because the reference
// implementation makes byte order a per-field property rather than a
// single global constant.
type Endian uint8

const (
	BigEndian Endian = iota
	LittleEndian
)

// ChecksumMethod names a supported checksum algorithm.
type ChecksumMethod uint8

const (
	Sum8 ChecksumMethod = iota
	Sum16
	Sum32
	Xor8
	Complement
	Crc32
)

// Width returns the number of bytes the checksum method's stored value
// occupies.
func (m ChecksumMethod) Width() int {
	switch m {
	case Sum8, Xor8, Complement:
		return 1
	case Sum16:
		return 2
	case Sum32, Crc32:
		return 4
	default:
		return 0
	}
}

func (m ChecksumMethod) String() string {
	switch m {
	case Sum8:
		return "Sum8"
	case Sum16:
		return "Sum16"
	case Sum32:
		return "Sum32"
	case Xor8:
		return "Xor8"
	case Complement:
		return "Complement"
	case Crc32:
		return "Crc32"
	default:
		return "Unknown"
	}
}

// FieldDef is one named field in a Struct node.
type FieldDef struct {
	Name string
	Type *Type
}

// ConverterSpec is one direction (read or write) of a Converter node:
// before_valid/convert/after_valid, each optional, sharing the single
// free variable "self".
type ConverterSpec struct {
	BeforeValid *expr.Expr
	Convert     *expr.Expr
	AfterValid  *expr.Expr
}

// Type is the recursive tagged union describing a binary layout node.
// It is a plain struct with a Kind discriminant rather than an
// interface hierarchy, per the "avoid class hierarchies" design note:
// polymorphism is a switch over Kind in the read/write engines, not
// virtual dispatch.
type Type struct {
	Kind TypeKind

	// KindNumeric
	BitWidth int // 8, 16, 32, or 64
	Signed   bool
	IsFloat  bool
	Endian   Endian

	// KindBinType / KindStringType
	Size     *SizeExpr
	Encoding string // "utf-8" or "ascii", KindStringType only

	// KindMagicType
	Magic []byte

	// KindStructType
	Fields []FieldDef

	// KindArrayType
	Element    *Type
	ArraySize  *SizeExpr // byte count, optional
	ArrayLen   *SizeExpr // element count, optional

	// KindEnumType. Map keys are matched exactly first; if the
	// discriminant is numeric and no exact key matches, keys are
	// retried as range expressions ("100..200", "100..", "..200",
	// "100..=200", "..=200", "[1, 2, 3]"), with a bare ".." key as the
	// final default. See resolveEnumCase.
	By  string
	Map map[string]*Type

	// KindChecksumType
	Method    ChecksumMethod
	StartKey  string
	EndKey    string
	TargetKey string

	// KindConverterType
	Original *Type
	OnRead   *ConverterSpec
	OnWrite  *ConverterSpec

	// KindEncryptType / KindSignType (share Inner)
	Inner *Type

	// KindEncryptType
	KeyName     string
	EncryptSize *SizeExpr

	// KindSignType
	HasherName    string
	SignStartKey  string
	SignEndKey    string
	SignatureKey  string
}

// Uint8/Uint16/Uint32/Uint64/Int8/Int16/Int32/Int64 construct
// fixed-width big-endian integer nodes.
func Uint8() *Type  { return numeric(8, false, false) }
func Uint16() *Type { return numeric(16, false, false) }
func Uint32() *Type { return numeric(32, false, false) }
func Uint64() *Type { return numeric(64, false, false) }
func Int8() *Type   { return numeric(8, true, false) }
func Int16() *Type  { return numeric(16, true, false) }
func Int32() *Type  { return numeric(32, true, false) }
func Int64() *Type  { return numeric(64, true, false) }

// Float32Type and Float64Type construct IEEE-754 big-endian float nodes.
func Float32Type() *Type { return numeric(32, true, true) }
func Float64Type() *Type { return numeric(64, true, true) }

func numeric(width int, signed, isFloat bool) *Type {
	return &Type{Kind: KindNumeric, BitWidth: width, Signed: signed, IsFloat: isFloat}
}

// BinType constructs a raw byte-run node of the given size.
func BinType(size *SizeExpr) *Type {
	return &Type{Kind: KindBinType, Size: size}
}

// StringType constructs a fixed-size decoded string node.
func StringType(size *SizeExpr, encoding string) *Type {
	return &Type{Kind: KindStringType, Size: size, Encoding: encoding}
}

// MagicType constructs a constant-byte-sequence node.
func MagicType(magic []byte) *Type {
	return &Type{Kind: KindMagicType, Magic: magic}
}

// StructType constructs an ordered-fields node.
func StructType(fields ...FieldDef) *Type {
	return &Type{Kind: KindStructType, Fields: fields}
}

// ArrayType constructs a homogeneous-sequence node. At least one of
// size (bytes) or length (elements) must be non-nil.
func ArrayType(element *Type, size, length *SizeExpr) *Type {
	return &Type{Kind: KindArrayType, Element: element, ArraySize: size, ArrayLen: length}
}

// EnumType constructs a discriminated-union node. cases may key by
// exact discriminant value or, for numeric discriminants, by range
// expression (see resolveEnumCase).
func EnumType(by string, cases map[string]*Type) *Type {
	return &Type{Kind: KindEnumType, By: by, Map: cases}
}

// ChecksumType constructs a checksum node.
func ChecksumType(method ChecksumMethod, startKey, endKey, targetKey string) *Type {
	return &Type{Kind: KindChecksumType, Method: method, StartKey: startKey, EndKey: endKey, TargetKey: targetKey}
}

// ConverterType constructs a validate+transform wrapper node.
func ConverterType(original *Type, onRead, onWrite *ConverterSpec) *Type {
	return &Type{Kind: KindConverterType, Original: original, OnRead: onRead, OnWrite: onWrite}
}

// EncryptType constructs an encryption wrapper node.
func EncryptType(inner *Type, keyName string, size *SizeExpr) *Type {
	return &Type{Kind: KindEncryptType, Inner: inner, KeyName: keyName, EncryptSize: size}
}

// SignType constructs a signature wrapper node. startKey/endKey bound
// the hashed byte window within the enclosing struct (the "signature
// position"); signatureKey names the sibling field holding the raw
// signature bytes.
func SignType(inner *Type, hasherName, startKey, endKey, signatureKey string) *Type {
	return &Type{
		Kind:         KindSignType,
		Inner:        inner,
		HasherName:   hasherName,
		SignStartKey: startKey,
		SignEndKey:   endKey,
		SignatureKey: signatureKey,
	}
}
