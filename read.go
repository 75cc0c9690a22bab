package binschema

import (
	"encoding/binary"
	"log/slog"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/latticeware/binschema/bitio"
	"github.com/latticeware/binschema/expr"
	"github.com/latticeware/binschema/secure"
)

// ReadOption configures a call to [Read].
type ReadOption func(*readConfig)

type readConfig struct {
	keys       map[string]secure.SecureKey
	hashers    map[string]secure.Hasher
	decompress bool
	maxDepth   int // 0 means unbounded
	depth      int
	logger     *slog.Logger
}

// WithMaxDepth bounds schema recursion depth, guarding against a cyclic
// or runaway-nested Type tree. 0 (the default) leaves recursion
// unbounded.
func WithMaxDepth(n int) ReadOption {
	return func(c *readConfig) { c.maxDepth = n }
}

// WithLogger attaches a logger that receives slog.LevelDebug records
// for finalize-stage decisions: which checksum method verified a
// window for which target field.
func WithLogger(l *slog.Logger) ReadOption {
	return func(c *readConfig) { c.logger = l }
}

// WithKey registers a named [secure.SecureKey] an Encrypt node can look
// up by name. Key material is never part of the schema itself.
func WithKey(name string, key secure.SecureKey) ReadOption {
	return func(c *readConfig) { c.keys[name] = key }
}

// WithHasher registers a named [secure.Hasher] a Sign node can look up
// by name.
func WithHasher(name string, h secure.Hasher) ReadOption {
	return func(c *readConfig) { c.hashers[name] = h }
}

func newReadConfig(opts []ReadOption) *readConfig {
	c := &readConfig{keys: map[string]secure.SecureKey{}, hashers: map[string]secure.Hasher{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Read decodes data against t and returns the resulting document Value
// plus whatever full bytes of data were left unconsumed.
func Read(t *Type, data []byte, opts ...ReadOption) (Value, []byte, error) {
	cfg := newReadConfig(opts)
	if cfg.decompress {
		inflated, err := decompressBytes(data)
		if err != nil {
			return Value{}, nil, err
		}
		data = inflated
	}
	r := bitio.NewReader(data)
	env := NewEnvironment()
	v, err := readType(cfg, t, r, env)
	if err != nil {
		return Value{}, nil, err
	}
	return v, r.RemainingBytes(), nil
}

// fieldSpan records the byte range [start, end) a struct field's raw
// encoding occupied, used to resolve checksum and signature windows
// that are keyed by sibling field name rather than by explicit offset.
type fieldSpan struct {
	start, end int
}

func readType(cfg *readConfig, t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	cfg.depth++
	defer func() { cfg.depth-- }()
	if cfg.maxDepth > 0 && cfg.depth > cfg.maxDepth {
		return Value{}, newErr(ErrSchema, "schema recursion exceeds max depth %d", cfg.maxDepth)
	}
	switch t.Kind {
	case KindNumeric:
		return readNumeric(t, r)
	case KindBinType:
		return readBin(t, r, env)
	case KindStringType:
		return readString(t, r, env)
	case KindMagicType:
		return readMagic(t, r)
	case KindStructType:
		return readStruct(cfg, t, r, env)
	case KindArrayType:
		return readArray(cfg, t, r, env)
	case KindEnumType:
		return readEnum(cfg, t, r, env)
	case KindConverterType:
		return readConverter(cfg, t, r, env)
	case KindEncryptType:
		return readEncrypt(cfg, t, r, env)
	case KindChecksumType:
		// A bare Checksum node outside of a Struct's field list has no
		// sibling window to verify against; read its raw stored value
		// and let the enclosing struct perform verification.
		v, err := r.TakeBits(t.Method.Width() * 8)
		if err != nil {
			return Value{}, newErr(ErrTruncation, "reading checksum value: %v", err)
		}
		return Uint(v), nil
	case KindSignType:
		return readType(cfg, t.Inner, r, env)
	default:
		return Value{}, newErr(ErrSchema, "unknown type kind %d", t.Kind)
	}
}

func readNumeric(t *Type, r *bitio.Reader) (Value, error) {
	raw, err := r.TakeBits(t.BitWidth)
	if err != nil {
		return Value{}, newErr(ErrTruncation, "reading %d-bit numeric: %v", t.BitWidth, err)
	}
	if t.Endian == LittleEndian && t.BitWidth > 8 {
		raw = swapEndian(raw, t.BitWidth)
	}
	if t.IsFloat {
		switch t.BitWidth {
		case 32:
			return Float(float64(math.Float32frombits(uint32(raw)))), nil
		case 64:
			return Float(math.Float64frombits(raw)), nil
		default:
			return Value{}, newErr(ErrSchema, "float width must be 32 or 64, got %d", t.BitWidth)
		}
	}
	if t.Signed {
		return Int(signExtend(raw, t.BitWidth)), nil
	}
	return Uint(raw), nil
}

func signExtend(raw uint64, width int) int64 {
	if width == 64 {
		return int64(raw)
	}
	shift := 64 - width
	return int64(raw<<uint(shift)) >> uint(shift)
}

func swapEndian(v uint64, width int) uint64 {
	n := width / 8
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	be := buf[8-n:]
	le := make([]byte, n)
	for i, b := range be {
		le[n-1-i] = b
	}
	out := make([]byte, 8)
	copy(out[8-n:], le)
	return binary.BigEndian.Uint64(out)
}

func readBin(t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	n, err := t.Size.Resolve(env)
	if err != nil {
		return Value{}, err
	}
	b, err := r.TakeBytes(int(n))
	if err != nil {
		return Value{}, newErr(ErrTruncation, "reading %d-byte bin: %v", n, err)
	}
	return Bin(b), nil
}

func readString(t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	n, err := t.Size.Resolve(env)
	if err != nil {
		return Value{}, err
	}
	b, err := r.TakeBytes(int(n))
	if err != nil {
		return Value{}, newErr(ErrTruncation, "reading %d-byte string: %v", n, err)
	}
	if err := validateEncoding(t.Encoding, b); err != nil {
		return Value{}, err
	}
	return Str(string(b)), nil
}

func validateEncoding(encoding string, b []byte) error {
	switch encoding {
	case "", "utf-8":
		if !utf8.Valid(b) {
			return newErr(ErrEncoding, "bytes are not valid utf-8")
		}
	case "ascii":
		for _, c := range b {
			if c > 0x7F {
				return newErr(ErrEncoding, "byte 0x%02x is not valid ascii", c)
			}
		}
	default:
		return newErr(ErrSchema, "unsupported string encoding %q", encoding)
	}
	return nil
}

func readMagic(t *Type, r *bitio.Reader) (Value, error) {
	b, err := r.TakeBytes(len(t.Magic))
	if err != nil {
		return Value{}, newErr(ErrTruncation, "reading %d-byte magic: %v", len(t.Magic), err)
	}
	for i, want := range t.Magic {
		if b[i] != want {
			return Value{}, newErr(ErrMagic, "expected magic % x, got % x", t.Magic, b)
		}
	}
	return Bin(b), nil
}

// pendingFinalize is a checksum or signature job discovered while
// walking a struct's fields, to be resolved once every field's span is
// known.
type pendingFinalize struct {
	isSignature bool

	// checksum
	method    ChecksumMethod
	startKey  string
	endKey    string
	targetKey string

	// signature
	hasherName   string
	signatureKey string
}

func readStruct(cfg *readConfig, t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	env.Push()
	defer env.Pop()

	fields := make([]Field, 0, len(t.Fields))
	spans := map[string]fieldSpan{}
	var pending []pendingFinalize

	for _, fd := range t.Fields {
		startOff, startAligned := r.ByteOffset()

		var v Value
		var err error
		switch fd.Type.Kind {
		case KindChecksumType:
			raw, terr := r.TakeBits(fd.Type.Method.Width() * 8)
			if terr != nil {
				err = newErr(ErrTruncation, "reading checksum field: %v", terr)
			} else {
				v = Uint(raw)
				pending = append(pending, pendingFinalize{
					method: fd.Type.Method, startKey: fd.Type.StartKey,
					endKey: fd.Type.EndKey, targetKey: fd.Type.TargetKey,
				})
			}
		case KindSignType:
			v, err = readType(cfg, fd.Type.Inner, r, env)
			if err == nil {
				pending = append(pending, pendingFinalize{
					isSignature: true, hasherName: fd.Type.HasherName,
					startKey: fd.Type.SignStartKey, endKey: fd.Type.SignEndKey,
					signatureKey: fd.Type.SignatureKey,
				})
			}
		default:
			v, err = readType(cfg, fd.Type, r, env)
		}
		if err != nil {
			return Value{}, wrapPath(err, fieldElem(fd.Name))
		}

		endOff, endAligned := r.ByteOffset()
		if startAligned && endAligned {
			spans[fd.Name] = fieldSpan{start: startOff, end: endOff}
		}

		env.Bind(fd.Name, v)
		fields = append(fields, Field{Name: fd.Name, Value: v})
	}

	if err := finalizeRead(cfg, r, fields, spans, pending); err != nil {
		return Value{}, err
	}

	return Object(fields...), nil
}

// finalizeRead resolves every pending checksum/signature job discovered
// while walking a struct's fields, in the order the spec requires:
// checksums, then signatures. Encryption is resolved on the way in
// instead (an Encrypt node decrypts before its inner type is read), so
// it needs no finalize step here.
func finalizeRead(cfg *readConfig, r *bitio.Reader, fields []Field, spans map[string]fieldSpan, pending []pendingFinalize) error {
	for _, p := range pending {
		if p.isSignature {
			continue
		}
		if err := verifyChecksumPending(p, r, spans, fields); err != nil {
			return err
		}
		if cfg.logger != nil {
			cfg.logger.Debug("checksum verified", "method", p.method, "target_key", p.targetKey)
		}
	}
	for _, p := range pending {
		if !p.isSignature {
			continue
		}
		if err := verifySignaturePending(cfg, p, r, spans, fields); err != nil {
			return err
		}
	}
	return nil
}

func checksumWindow(r *bitio.Reader, spans map[string]fieldSpan, startKey, endKey string) ([]byte, error) {
	startSpan, ok := spans[startKey]
	if !ok {
		return nil, newErr(ErrSchema, "start_key %q is not a byte-aligned sibling field", startKey)
	}
	endSpan, ok := spans[endKey]
	if !ok {
		return nil, newErr(ErrSchema, "end_key %q is not a byte-aligned sibling field", endKey)
	}
	return r.Slice(startSpan.start, endSpan.end), nil
}

func verifyChecksumPending(p pendingFinalize, r *bitio.Reader, spans map[string]fieldSpan, fields []Field) error {
	window, err := checksumWindow(r, spans, p.startKey, p.endKey)
	if err != nil {
		return err
	}
	got := computeChecksum(p.method, window)
	want, ok := fieldValue(fields, p.targetKey)
	if !ok {
		return newErr(ErrSchema, "checksum target_key %q is not a field of this struct", p.targetKey)
	}
	wantN, err := want.AsInt64()
	if err != nil {
		return wrapPath(newErr(ErrChecksum, "target field %q is not numeric: %v", p.targetKey, err), fieldElem(p.targetKey))
	}
	if uint64(wantN) != got {
		return wrapPath(newErr(ErrChecksum, "%s mismatch: computed 0x%x, stored 0x%x", p.method, got, wantN), fieldElem(p.targetKey))
	}
	return nil
}

func verifySignaturePending(cfg *readConfig, p pendingFinalize, r *bitio.Reader, spans map[string]fieldSpan, fields []Field) error {
	window, err := checksumWindow(r, spans, p.startKey, p.endKey)
	if err != nil {
		return err
	}
	sigVal, ok := fieldValue(fields, p.signatureKey)
	if !ok {
		return newErr(ErrSchema, "signature_key %q is not a field of this struct", p.signatureKey)
	}
	sigBytes, ok := sigVal.Bin()
	if !ok {
		return newErr(ErrSchema, "signature_key %q must be a bin field", p.signatureKey)
	}
	hasher, ok := cfg.hashers[p.hasherName]
	if !ok {
		return newErr(ErrSecure, "no hasher registered for name %q", p.hasherName)
	}
	if !secureVerify(hasher, window, sigBytes) {
		return wrapPath(newErr(ErrSecure, "signature verification failed"), fieldElem(p.signatureKey))
	}
	return nil
}

func secureVerify(hasher secure.Hasher, data, signature []byte) bool {
	return secure.VerifySignature(hasher, data, signature)
}

func fieldValue(fields []Field, name string) (Value, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

func readArray(cfg *readConfig, t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	var count int64 = -1
	if t.ArrayLen != nil {
		n, err := t.ArrayLen.Resolve(env)
		if err != nil {
			return Value{}, err
		}
		count = n
	}

	var sub *bitio.Reader = r
	if t.ArraySize != nil {
		n, err := t.ArraySize.Resolve(env)
		if err != nil {
			return Value{}, err
		}
		child, err := r.Split(int(n))
		if err != nil {
			return Value{}, newErr(ErrTruncation, "reading %d-byte array: %v", n, err)
		}
		sub = child
	}

	var out []Value
	for i := 0; count < 0 || int64(len(out)) < count; i++ {
		if count < 0 && sub.BitLen() == 0 {
			break
		}
		v, err := readType(cfg, t.Element, sub, env)
		if err != nil {
			if count < 0 {
				// Size-bounded, length-unbounded array: a truncated
				// final element means the declared byte size did not
				// hold a whole number of elements.
				return Value{}, wrapPath(newErr(ErrSizeMismatch, "array size does not divide evenly into elements: %v", err), indexElem(i))
			}
			return Value{}, wrapPath(err, indexElem(i))
		}
		out = append(out, v)
	}
	if count >= 0 && t.ArraySize != nil && sub.BitLen() != 0 {
		return Value{}, newErr(ErrSizeMismatch, "array declared %d elements but %d bytes remain in its %v-byte window", count, sub.BitLen()/8, t.ArraySize)
	}
	return Array(out...), nil
}

func readEnum(cfg *readConfig, t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	disc, ok := env.Lookup(t.By)
	if !ok {
		return Value{}, newErr(ErrSchema, "enum discriminant field %q not found", t.By)
	}
	key, err := discriminantKey(disc)
	if err != nil {
		return Value{}, newErr(ErrEnum, "%v", err)
	}
	branch, err := resolveEnumCase(t, key, disc)
	if err != nil {
		return Value{}, err
	}
	return readType(cfg, branch, r, env)
}

func discriminantKey(v Value) (string, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.Str()
		return s, nil
	case KindInt:
		n, _ := v.Int()
		return strconv.FormatInt(n, 10), nil
	case KindUint:
		n, _ := v.Uint()
		return strconv.FormatUint(n, 10), nil
	case KindBool:
		b, _ := v.Bool()
		return strconv.FormatBool(b), nil
	case KindFloat:
		f, _ := v.Float()
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		return "", newErr(ErrEnum, "discriminant value of kind %s cannot select an enum case", v.Kind())
	}
}

func readConverter(cfg *readConfig, t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	raw, err := readType(cfg, t.Original, r, env)
	if err != nil {
		return Value{}, err
	}
	if t.OnRead == nil {
		return raw, nil
	}
	self, ok := toExprValue(raw)
	if !ok {
		return Value{}, newErr(ErrEvalExpr, "converter's original value has no expression-language equivalent")
	}
	converterEnv := expr.MapEnv{"self": self}

	if t.OnRead.BeforeValid != nil {
		ok, verr := evalBool(t.OnRead.BeforeValid, converterEnv)
		if verr != nil {
			return Value{}, newErr(ErrEvalExpr, "before_valid: %v", verr)
		}
		if !ok {
			return Value{}, newErr(ErrEvalExpr, "before_valid failed for value %s", raw.GoString())
		}
	}

	result := raw
	if t.OnRead.Convert != nil {
		cv, cerr := t.OnRead.Convert.Eval(converterEnv)
		if cerr != nil {
			return Value{}, newErr(ErrEvalExpr, "convert: %v", cerr)
		}
		result = fromExprValue(cv)
		converterEnv = expr.MapEnv{"self": cv}
	}

	if t.OnRead.AfterValid != nil {
		ok, verr := evalBool(t.OnRead.AfterValid, converterEnv)
		if verr != nil {
			return Value{}, newErr(ErrEvalExpr, "after_valid: %v", verr)
		}
		if !ok {
			return Value{}, newErr(ErrEvalExpr, "after_valid failed for converted value %s", result.GoString())
		}
	}
	return result, nil
}

func evalBool(e *expr.Expr, env expr.Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

func fromExprValue(v expr.Value) Value {
	switch v.Kind {
	case expr.KindBool:
		return Bool(v.Bool)
	case expr.KindString:
		return Str(v.Str)
	case expr.KindNumber:
		if v.Num.IsInt() {
			if n, err := v.AsInt64(); err == nil {
				return Int(n)
			}
		}
		f, _ := v.AsFloat64()
		return Float(f)
	default:
		return Null()
	}
}

func readEncrypt(cfg *readConfig, t *Type, r *bitio.Reader, env *Environment) (Value, error) {
	n, err := t.EncryptSize.Resolve(env)
	if err != nil {
		return Value{}, err
	}
	ciphertext, err := r.TakeBytes(int(n))
	if err != nil {
		return Value{}, newErr(ErrTruncation, "reading %d-byte encrypted block: %v", n, err)
	}
	key, ok := cfg.keys[t.KeyName]
	if !ok {
		return Value{}, newErr(ErrSecure, "no key registered for name %q", t.KeyName)
	}
	plaintext, err := key.Decrypt(ciphertext)
	if err != nil {
		return Value{}, newErr(ErrSecure, "decrypting: %v", err)
	}
	inner := bitio.NewReader(plaintext)
	v, err := readType(cfg, t.Inner, inner, env)
	if err != nil {
		return Value{}, err
	}
	if inner.BitLen() != 0 {
		return Value{}, newErr(ErrSizeMismatch, "encrypted block has %d leftover bits after parsing inner", inner.BitLen())
	}
	return v, nil
}
