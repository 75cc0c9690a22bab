package binschema

import (
	"log/slog"
	"math"

	"github.com/latticeware/binschema/bitio"
	"github.com/latticeware/binschema/expr"
	"github.com/latticeware/binschema/secure"
)

// WriteOption configures a call to [Write].
type WriteOption func(*writeConfig)

type writeConfig struct {
	keys     map[string]secure.SecureKey
	hashers  map[string]secure.Hasher
	compress bool
	maxDepth int // 0 means unbounded
	depth    int
	logger   *slog.Logger
}

// WithMaxWriteDepth bounds schema recursion depth on write, mirroring
// [WithMaxDepth] on the read side. 0 (the default) leaves recursion
// unbounded.
func WithMaxWriteDepth(n int) WriteOption {
	return func(c *writeConfig) { c.maxDepth = n }
}

// WithWriteLogger attaches a logger that receives slog.LevelDebug
// records for finalize-stage decisions: which back-patch resolved a
// field, which checksum method computed a window.
func WithWriteLogger(l *slog.Logger) WriteOption {
	return func(c *writeConfig) { c.logger = l }
}

// WithWriteKey registers a named [secure.SecureKey] an Encrypt node can
// look up by name.
func WithWriteKey(name string, key secure.SecureKey) WriteOption {
	return func(c *writeConfig) { c.keys[name] = key }
}

// WithWriteHasher registers a named [secure.Hasher] a Sign node can
// look up by name.
func WithWriteHasher(name string, h secure.Hasher) WriteOption {
	return func(c *writeConfig) { c.hashers[name] = h }
}

func newWriteConfig(opts []WriteOption) *writeConfig {
	c := &writeConfig{keys: map[string]secure.SecureKey{}, hashers: map[string]secure.Hasher{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Write encodes v against t and returns the resulting bytes.
func Write(t *Type, v Value, opts ...WriteOption) ([]byte, error) {
	cfg := newWriteConfig(opts)
	w := bitio.NewWriter()
	env := NewEnvironment()
	if err := writeType(cfg, t, v, w, env); err != nil {
		return nil, err
	}
	out := w.Bytes()
	if cfg.compress {
		compressed, err := compressBytes(out)
		if err != nil {
			return nil, err
		}
		return compressed, nil
	}
	return out, nil
}

func writeType(cfg *writeConfig, t *Type, v Value, w *bitio.Writer, env *Environment) error {
	cfg.depth++
	defer func() { cfg.depth-- }()
	if cfg.maxDepth > 0 && cfg.depth > cfg.maxDepth {
		return newErr(ErrSchema, "schema recursion exceeds max depth %d", cfg.maxDepth)
	}
	switch t.Kind {
	case KindNumeric:
		return writeNumeric(t, v, w)
	case KindBinType:
		return writeBin(t, v, w, env)
	case KindStringType:
		return writeString(t, v, w, env)
	case KindMagicType:
		w.AppendBytes(t.Magic)
		return nil
	case KindStructType:
		return writeStruct(cfg, t, v, w, env)
	case KindArrayType:
		return writeArray(cfg, t, v, w, env)
	case KindEnumType:
		return writeEnum(cfg, t, v, w, env)
	case KindConverterType:
		return writeConverter(cfg, t, v, w, env)
	case KindEncryptType:
		return writeEncrypt(cfg, t, v, w, env)
	case KindChecksumType:
		// Outside of a Struct's field list a checksum has no window to
		// compute over; write whatever value is given verbatim.
		n, err := v.AsInt64()
		if err != nil {
			return newErr(ErrChecksum, "checksum value: %v", err)
		}
		w.AppendBits(t.Method.Width()*8, uint64(n))
		return nil
	case KindSignType:
		return writeType(cfg, t.Inner, v, w, env)
	default:
		return newErr(ErrSchema, "unknown type kind %d", t.Kind)
	}
}

func writeNumeric(t *Type, v Value, w *bitio.Writer) error {
	raw, err := numericRawValue(t, v)
	if err != nil {
		return newErr(ErrRange, "%v", err)
	}
	if t.Endian == LittleEndian && t.BitWidth > 8 {
		raw = swapEndian(raw, t.BitWidth)
	}
	w.AppendBits(t.BitWidth, raw)
	return nil
}

func numericRawValue(t *Type, v Value) (uint64, error) {
	if t.IsFloat {
		f, err := v.AsNumber()
		if err != nil {
			return 0, err
		}
		switch t.BitWidth {
		case 32:
			return uint64(math.Float32bits(float32(f))), nil
		case 64:
			return math.Float64bits(f), nil
		default:
			return 0, newErr(ErrSchema, "float width must be 32 or 64, got %d", t.BitWidth)
		}
	}
	if !t.Signed {
		if u, ok := v.Uint(); ok {
			return maskWidth(u, t.BitWidth), nil
		}
	}
	n, err := v.AsInt64()
	if err != nil {
		return 0, err
	}
	return maskWidth(uint64(n), t.BitWidth), nil
}

func maskWidth(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}
	return v & ((1 << uint(width)) - 1)
}

func writeBin(t *Type, v Value, w *bitio.Writer, env *Environment) error {
	b, ok := v.Bin()
	if !ok {
		return newErr(ErrMissingField, "expected bin value")
	}
	if err := checkStaticSize(t.Size, len(b), env); err != nil {
		return err
	}
	w.AppendBytes(b)
	return nil
}

func writeString(t *Type, v Value, w *bitio.Writer, env *Environment) error {
	s, ok := v.Str()
	if !ok {
		return newErr(ErrMissingField, "expected string value")
	}
	b := []byte(s)
	if err := validateEncoding(t.Encoding, b); err != nil {
		return err
	}
	if err := checkStaticSize(t.Size, len(b), env); err != nil {
		return err
	}
	w.AppendBytes(b)
	return nil
}

// checkStaticSize cross-checks an already-resolvable size expression
// against the actual byte count being written. A forward reference
// that is not yet resolvable is not an error here — writeStruct's
// resolveByName handles it once this field finishes writing.
func checkStaticSize(size *SizeExpr, actual int, env *Environment) error {
	if size == nil {
		return nil
	}
	if name, ok := size.FieldRef(); ok {
		if _, bound := env.Lookup(name); !bound {
			return nil
		}
	}
	n, err := size.Resolve(env)
	if err != nil {
		return err
	}
	if int(n) != actual {
		return newErr(ErrSizeMismatch, "declared size %d does not match %d actual bytes", n, actual)
	}
	return nil
}

// placeholder records a reserved-but-not-yet-determined field: either a
// fixed-width numeric (a size/length/checksum prefix) or a fixed-size
// bin (a signature). It is resolved either inline, by the sibling field
// whose actual size or count determines its value, or at struct
// finalize, for checksum and signature fields.
type placeholder struct {
	bitOffset int
	widthBits int
	numType   *Type // for encoding a resolved numeric value, nil for a bin placeholder
	resolved  bool
}

func writeStruct(cfg *writeConfig, t *Type, v Value, w *bitio.Writer, env *Environment) error {
	env.Push()
	defer env.Pop()

	spans := map[string]fieldSpan{}
	placeholders := map[string]*placeholder{}
	var checksumJobs []pendingFinalize
	var signatureJobs []pendingFinalize

	resolveByName := func(name string, resolved int64) error {
		ph, ok := placeholders[name]
		if !ok || ph.resolved {
			return nil
		}
		raw, err := numericRawValue(ph.numType, Int(resolved))
		if err != nil {
			return newErr(ErrRange, "resolving field %q: %v", name, err)
		}
		if ph.numType.Endian == LittleEndian && ph.widthBits > 8 {
			raw = swapEndian(raw, ph.widthBits)
		}
		if err := w.PatchBits(ph.bitOffset, ph.widthBits, raw); err != nil {
			return newErr(ErrSchema, "patching field %q: %v", name, err)
		}
		env.Bind(name, numericValueFor(ph.numType, resolved))
		ph.resolved = true
		if cfg.logger != nil {
			cfg.logger.Debug("back-patch resolved", "field", name, "value", resolved)
		}
		return nil
	}

	for _, fd := range t.Fields {
		startOff, startAligned := w.ByteOffset()

		var fieldVal Value
		var hadValue bool
		if v.Kind() == KindObject {
			fieldVal, hadValue = v.Field(fd.Name)
		}

		var err error
		switch fd.Type.Kind {
		case KindMagicType:
			w.AppendBytes(fd.Type.Magic)
			fieldVal = Bin(fd.Type.Magic)

		case KindChecksumType:
			off := w.Reserve(fd.Type.Method.Width() * 8)
			placeholders[fd.Name] = &placeholder{bitOffset: off, widthBits: fd.Type.Method.Width() * 8}
			checksumJobs = append(checksumJobs, pendingFinalize{
				method: fd.Type.Method, startKey: fd.Type.StartKey,
				endKey: fd.Type.EndKey, targetKey: fd.Name,
			})
			fieldVal = Uint(0)

		case KindSignType:
			if !hadValue {
				err = newErr(ErrMissingField, "signed field %q has no value", fd.Name)
				break
			}
			innerStart, innerAligned := w.ByteOffset()
			err = writeType(cfg, fd.Type.Inner, fieldVal, w, env)
			if err == nil {
				innerEnd, _ := w.ByteOffset()
				if innerAligned {
					placeholders[fd.Type.SignatureKey] = &placeholder{
						bitOffset: innerStart * 8,
						widthBits: (innerEnd - innerStart) * 8,
						resolved:  false,
					}
				}
				signatureJobs = append(signatureJobs, pendingFinalize{
					isSignature: true, hasherName: fd.Type.HasherName,
					startKey: fd.Type.SignStartKey, endKey: fd.Type.SignEndKey,
					signatureKey: fd.Type.SignatureKey,
				})
			}

		default:
			if !hadValue {
				ph, synthErr := reservePlaceholder(fd, w)
				if synthErr != nil {
					err = synthErr
					break
				}
				placeholders[fd.Name] = ph
				fieldVal = zeroValueFor(fd.Type)
				break
			}
			err = writeType(cfg, fd.Type, fieldVal, w, env)
		}
		if err != nil {
			return wrapPath(err, fieldElem(fd.Name))
		}

		endOff, endAligned := w.ByteOffset()
		if startAligned && endAligned {
			spans[fd.Name] = fieldSpan{start: startOff, end: endOff}
		}

		// Resolve any placeholder this field's size/length referenced.
		if ref, isByteSize, ok := sizeFieldRef(fd.Type); ok {
			if _, bound := env.Lookup(ref); !bound {
				var count int64
				if isByteSize {
					count = int64(endOff - startOff)
				} else {
					elems, _ := fieldVal.Array()
					count = int64(len(elems))
				}
				if err := resolveByName(ref, count); err != nil {
					return wrapPath(err, fieldElem(fd.Name))
				}
			}
		}

		if _, deferred := placeholders[fd.Name]; !deferred {
			env.Bind(fd.Name, fieldVal)
		}
	}

	for _, job := range checksumJobs {
		if err := resolveChecksumJob(cfg, job, w, spans, placeholders, env); err != nil {
			return err
		}
	}
	for _, job := range signatureJobs {
		if err := resolveSignatureJob(cfg, job, w, spans, placeholders, env); err != nil {
			return err
		}
	}
	for name, ph := range placeholders {
		if !ph.resolved {
			return newErr(ErrMissingField, "field %q has no value and could not be synthesized", name)
		}
	}

	return nil
}

// sizeFieldRef reports the sibling field name a type's size/length
// expression refers to, if any, and whether that reference names a
// byte count (true) or an element count (false, KindArrayType's
// ArrayLen only).
func sizeFieldRef(t *Type) (name string, isByteSize bool, ok bool) {
	switch t.Kind {
	case KindBinType, KindStringType:
		name, ok = t.Size.FieldRef()
		return name, true, ok
	case KindArrayType:
		if t.ArrayLen != nil {
			if name, ok = t.ArrayLen.FieldRef(); ok {
				return name, false, true
			}
		}
		if t.ArraySize != nil {
			name, ok = t.ArraySize.FieldRef()
			return name, true, ok
		}
	}
	return "", false, false
}

// reservePlaceholder reserves storage for a field that has no input
// value, for the cases where its width is statically known: a
// fixed-width numeric, or a bin with a literal size.
func reservePlaceholder(fd FieldDef, w *bitio.Writer) (*placeholder, error) {
	switch fd.Type.Kind {
	case KindNumeric:
		off := w.Reserve(fd.Type.BitWidth)
		return &placeholder{bitOffset: off, widthBits: fd.Type.BitWidth, numType: fd.Type}, nil
	case KindBinType:
		n, ok := fd.Type.Size.literalOrZero()
		if !ok {
			return nil, newErr(ErrMissingField, "field %q has no value", fd.Name)
		}
		off := w.Reserve(int(n) * 8)
		return &placeholder{bitOffset: off, widthBits: int(n) * 8}, nil
	default:
		return nil, newErr(ErrMissingField, "field %q has no value", fd.Name)
	}
}

func zeroValueFor(t *Type) Value {
	switch t.Kind {
	case KindNumeric:
		if t.IsFloat {
			return Float(0)
		}
		if t.Signed {
			return Int(0)
		}
		return Uint(0)
	case KindBinType:
		n, _ := t.Size.literalOrZero()
		return Bin(make([]byte, n))
	default:
		return Null()
	}
}

func numericValueFor(t *Type, n int64) Value {
	if !t.Signed {
		return Uint(uint64(n))
	}
	return Int(n)
}

func resolveChecksumJob(cfg *writeConfig, job pendingFinalize, w *bitio.Writer, spans map[string]fieldSpan, placeholders map[string]*placeholder, env *Environment) error {
	startSpan, ok1 := spans[job.startKey]
	endSpan, ok2 := spans[job.endKey]
	if !ok1 || !ok2 {
		return newErr(ErrSchema, "checksum window keys %q/%q are not byte-aligned sibling fields", job.startKey, job.endKey)
	}
	window := w.Bytes()[startSpan.start:endSpan.end]
	value := computeChecksum(job.method, window)

	ph, ok := placeholders[job.targetKey]
	if !ok {
		return newErr(ErrSchema, "checksum target field %q was not reserved", job.targetKey)
	}
	if err := w.PatchBits(ph.bitOffset, ph.widthBits, value); err != nil {
		return newErr(ErrChecksum, "%v", err)
	}
	ph.resolved = true
	env.Bind(job.targetKey, Uint(value))
	if cfg.logger != nil {
		cfg.logger.Debug("checksum computed", "method", job.method, "target_key", job.targetKey)
	}
	return nil
}

func resolveSignatureJob(cfg *writeConfig, job pendingFinalize, w *bitio.Writer, spans map[string]fieldSpan, placeholders map[string]*placeholder, env *Environment) error {
	startSpan, ok1 := spans[job.startKey]
	endSpan, ok2 := spans[job.endKey]
	if !ok1 || !ok2 {
		return newErr(ErrSchema, "signature window keys %q/%q are not byte-aligned sibling fields", job.startKey, job.endKey)
	}
	window := w.Bytes()[startSpan.start:endSpan.end]

	hasher, ok := cfg.hashers[job.hasherName]
	if !ok {
		return newErr(ErrSecure, "no hasher registered for name %q", job.hasherName)
	}
	sig := hasher.Hash(window)

	ph, ok := placeholders[job.signatureKey]
	if !ok {
		return newErr(ErrSchema, "signature field %q was not reserved", job.signatureKey)
	}
	if ph.widthBits/8 != len(sig) {
		return newErr(ErrSecure, "signature field %q is %d bytes, hasher produced %d", job.signatureKey, ph.widthBits/8, len(sig))
	}
	if err := w.PatchBytes(ph.bitOffset, sig); err != nil {
		return newErr(ErrSecure, "%v", err)
	}
	ph.resolved = true
	env.Bind(job.signatureKey, Bin(sig))
	return nil
}

func writeArray(cfg *writeConfig, t *Type, v Value, w *bitio.Writer, env *Environment) error {
	elems, ok := v.Array()
	if !ok {
		return newErr(ErrMissingField, "expected array value")
	}
	if err := checkStaticSize(t.ArrayLen, len(elems), env); err != nil {
		return err
	}
	startOff, startAligned := w.ByteOffset()
	for i, e := range elems {
		if err := writeType(cfg, t.Element, e, w, env); err != nil {
			return wrapPath(err, indexElem(i))
		}
	}
	endOff, endAligned := w.ByteOffset()
	if startAligned && endAligned {
		if err := checkStaticSize(t.ArraySize, endOff-startOff, env); err != nil {
			return err
		}
	}
	return nil
}

func writeEnum(cfg *writeConfig, t *Type, v Value, w *bitio.Writer, env *Environment) error {
	disc, ok := env.Lookup(t.By)
	if !ok {
		return newErr(ErrSchema, "enum discriminant field %q not found", t.By)
	}
	key, err := discriminantKey(disc)
	if err != nil {
		return newErr(ErrEnum, "%v", err)
	}
	branch, err := resolveEnumCase(t, key, disc)
	if err != nil {
		return err
	}
	return writeType(cfg, branch, v, w, env)
}

func writeConverter(cfg *writeConfig, t *Type, v Value, w *bitio.Writer, env *Environment) error {
	if t.OnWrite == nil {
		return writeType(cfg, t.Original, v, w, env)
	}
	self, ok := toExprValue(v)
	if !ok {
		return newErr(ErrEvalExpr, "converter's input value has no expression-language equivalent")
	}
	converterEnv := expr.MapEnv{"self": self}

	if t.OnWrite.BeforeValid != nil {
		ok, err := evalBool(t.OnWrite.BeforeValid, converterEnv)
		if err != nil {
			return newErr(ErrEvalExpr, "before_valid: %v", err)
		}
		if !ok {
			return newErr(ErrEvalExpr, "before_valid failed for value %s", v.GoString())
		}
	}

	original := v
	if t.OnWrite.Convert != nil {
		cv, err := t.OnWrite.Convert.Eval(converterEnv)
		if err != nil {
			return newErr(ErrEvalExpr, "convert: %v", err)
		}
		original = fromExprValue(cv)
		converterEnv = expr.MapEnv{"self": cv}
	}

	if t.OnWrite.AfterValid != nil {
		ok, err := evalBool(t.OnWrite.AfterValid, converterEnv)
		if err != nil {
			return newErr(ErrEvalExpr, "after_valid: %v", err)
		}
		if !ok {
			return newErr(ErrEvalExpr, "after_valid failed for value %s", original.GoString())
		}
	}
	return writeType(cfg, t.Original, original, w, env)
}

func writeEncrypt(cfg *writeConfig, t *Type, v Value, w *bitio.Writer, env *Environment) error {
	key, ok := cfg.keys[t.KeyName]
	if !ok {
		return newErr(ErrSecure, "no key registered for name %q", t.KeyName)
	}
	inner := bitio.NewWriter()
	if err := writeType(cfg, t.Inner, v, inner, env); err != nil {
		return err
	}
	ciphertext, err := key.Encrypt(inner.Bytes())
	if err != nil {
		return newErr(ErrSecure, "encrypting: %v", err)
	}
	if err := checkStaticSize(t.EncryptSize, len(ciphertext), env); err != nil {
		return err
	}
	w.AppendBytes(ciphertext)
	return nil
}
