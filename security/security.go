package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

var (
	// ErrBadPassword means neither the user nor the owner password matched.
	ErrBadPassword = errors.New("invalid password")
	// ErrUnsupported covers security handlers and crypt methods this package cannot open.
	ErrUnsupported = errors.New("unsupported encryption")
)

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Handler decrypts (and, for fixtures, encrypts) object payloads of one document.
type Handler interface {
	IsEncrypted() bool
	Decrypt(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	EncryptMetadata() bool
}

type HandlerBuilder struct {
	encryptDict *raw.DictObj
	trailer     *raw.DictObj
	fileID      []byte
	password    string
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder { b.encryptDict = d; return b }
func (b *HandlerBuilder) WithTrailer(d *raw.DictObj) *HandlerBuilder     { b.trailer = d; return b }
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder           { b.fileID = id; return b }
func (b *HandlerBuilder) WithPassword(pwd string) *HandlerBuilder        { b.password = pwd; return b }

// Build parses the Encrypt dictionary and authenticates with the configured
// password, trying it first as the user and then as the owner password.
func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encryptDict == nil {
		return NoopHandler(), nil
	}
	d := b.encryptDict
	if name, ok := d.NameValue("Filter"); ok && name != "Standard" {
		return nil, fmt.Errorf("%w: filter %s", ErrUnsupported, name)
	}
	v, _ := d.IntValue("V")
	if v == 0 {
		v = 1
	}
	r, ok := d.IntValue("R")
	if !ok {
		r = 2
	}
	if v > 5 || r > 6 || v == 3 {
		return nil, fmt.Errorf("%w: V=%d R=%d", ErrUnsupported, v, r)
	}
	keyBits := 40
	if v >= 5 {
		keyBits = 256
	} else if n, ok := d.IntValue("Length"); ok && n > 0 {
		keyBits = n
	}
	if v == 4 {
		keyBits = 128
	}
	if keyBits%8 != 0 || keyBits < 40 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupported, keyBits)
	}
	if r == 2 {
		keyBits = 40
	}

	h := &standardHandler{v: v, r: r, keyLen: keyBits / 8, encryptMeta: true}
	h.o, _ = d.StringValue("O")
	h.u, _ = d.StringValue("U")
	h.oe, _ = d.StringValue("OE")
	h.ue, _ = d.StringValue("UE")
	p, _ := d.IntValue("P")
	h.p = int32(p)
	if em, ok := d.BoolValue("EncryptMetadata"); ok {
		h.encryptMeta = em
	}
	h.fileID = b.fileID
	if len(h.fileID) == 0 && b.trailer != nil {
		if arr, ok := b.trailer.Value("ID").(*raw.ArrayObj); ok && arr.Len() > 0 {
			if s, ok := arr.Items[0].(raw.StringObj); ok {
				h.fileID = s.Bytes
			}
		}
	}

	base := algoRC4
	if v >= 4 {
		base = algoAES
	}
	filters, err := parseCryptFilters(d, base)
	if err != nil {
		return nil, err
	}
	h.filters = filters
	if h.streamAlgo, err = resolveCryptFilter(d, "StmF", base, filters); err != nil {
		return nil, err
	}
	if h.stringAlgo, err = resolveCryptFilter(d, "StrF", base, filters); err != nil {
		return nil, err
	}
	if err := h.authenticate([]byte(b.password)); err != nil {
		return nil, err
	}
	return h, nil
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
)

type standardHandler struct {
	key         []byte
	v, r        int
	keyLen      int
	o, u        []byte
	oe, ue      []byte
	p           int32
	fileID      []byte
	encryptMeta bool
	streamAlgo  cryptAlgo
	stringAlgo  cryptAlgo
	filters     map[string]cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.encryptMeta }

func (h *standardHandler) authenticate(pwd []byte) error {
	if h.r >= 5 {
		return h.authenticateAES256(pwd)
	}
	if key := h.userKey(pwd); key != nil {
		h.key = key
		return nil
	}
	// owner password: recover the padded user password from O, then retry
	userPwd := h.ownerToUser(pwd)
	if key := h.userKey(userPwd); key != nil {
		h.key = key
		return nil
	}
	return ErrBadPassword
}

// userKey returns the file key when pwd is the user password.
func (h *standardHandler) userKey(pwd []byte) []byte {
	key := deriveKey(pwd, h.o, h.p, h.fileID, h.keyLen, h.r, h.encryptMeta)
	want := computeU(key, h.r, h.fileID)
	if len(h.u) < 16 {
		return nil
	}
	n := 32
	if h.r >= 3 {
		n = 16
	}
	if len(h.u) < n || !bytes.Equal(want[:n], h.u[:n]) {
		return nil
	}
	return key
}

func (h *standardHandler) ownerToUser(pwd []byte) []byte {
	key := ownerKey(pwd, h.r, h.keyLen)
	out := append([]byte(nil), h.o...)
	if len(out) > 32 {
		out = out[:32]
	}
	if h.r == 2 {
		return rc4Simple(key, out)
	}
	for i := 19; i >= 0; i-- {
		out = rc4Simple(xorKey(key, byte(i)), out)
	}
	return out
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, h.r, algo == algoAES)
	if algo == algoAES {
		return aesDecrypt(key, data)
	}
	return rc4Simple(key, data), nil
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	algo, err := h.algoFor(class, "")
	if err != nil {
		return nil, err
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, h.r, algo == algoAES)
	if algo == algoAES {
		return aesEncrypt(key, data)
	}
	return rc4Simple(key, data), nil
}

func (h *standardHandler) algoFor(class DataClass, filter string) (cryptAlgo, error) {
	if class == DataClassMetadataStream && !h.encryptMeta {
		return algoNone, nil
	}
	switch filter {
	case "Identity":
		return algoNone, nil
	case "", "Standard":
		if class == DataClassString {
			return h.stringAlgo, nil
		}
		return h.streamAlgo, nil
	}
	if algo, ok := h.filters[filter]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("%w: crypt filter %s not defined", ErrUnsupported, filter)
}

func (h *standardHandler) authenticateAES256(pwd []byte) error {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	if len(h.u) >= 48 && len(h.ue) >= 32 {
		if bytes.Equal(hash2B(pwd, h.u[32:40], nil, h.r), h.u[:32]) {
			key, err := aesCBCRaw(hash2B(pwd, h.u[40:48], nil, h.r), h.ue[:32])
			if err != nil {
				return err
			}
			h.key = key
			return nil
		}
	}
	if len(h.o) >= 48 && len(h.oe) >= 32 && len(h.u) >= 48 {
		if bytes.Equal(hash2B(pwd, h.o[32:40], h.u[:48], h.r), h.o[:32]) {
			key, err := aesCBCRaw(hash2B(pwd, h.o[40:48], h.u[:48], h.r), h.oe[:32])
			if err != nil {
				return err
			}
			h.key = key
			return nil
		}
	}
	return ErrBadPassword
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool { return false }
func (noEncryptionHandler) Decrypt(_, _ int, data []byte, _ DataClass, _ string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) EncryptMetadata() bool { return false }

// NoopHandler returns a reusable pass-through handler.
func NoopHandler() Handler { return noEncryptionHandler{} }

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// deriveKey computes the RC4/AESV2 file key from a user password (algorithm 2).
func deriveKey(pwd, owner []byte, p int32, fileID []byte, keyLen, r int, encryptMeta bool) []byte {
	data := make([]byte, 0, 32+len(owner)+8+len(fileID))
	data = append(data, padPassword(pwd)...)
	if len(owner) > 32 {
		owner = owner[:32]
	}
	data = append(data, owner...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(p))
	data = append(data, pBuf[:]...)
	data = append(data, fileID...)
	if r >= 4 && !encryptMeta {
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	sum := md5.Sum(data)
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	return append([]byte(nil), key[:keyLen]...)
}

// ownerKey is the RC4 key protecting the O entry (algorithm 3, steps a-d).
func ownerKey(ownerPwd []byte, r, keyLen int) []byte {
	sum := md5.Sum(padPassword(ownerPwd))
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(sum[:])
		}
	} else {
		keyLen = 5
	}
	return append([]byte(nil), sum[:keyLen]...)
}

func computeO(ownerPwd, userPwd []byte, r, keyLen int) []byte {
	key := ownerKey(ownerPwd, r, keyLen)
	out := rc4Simple(key, padPassword(userPwd))
	if r >= 3 {
		for i := 1; i <= 19; i++ {
			out = rc4Simple(xorKey(key, byte(i)), out)
		}
	}
	return out
}

func computeU(fileKey []byte, r int, fileID []byte) []byte {
	if r == 2 {
		return rc4Simple(fileKey, passwordPadding)
	}
	h := md5.New()
	h.Write(passwordPadding)
	h.Write(fileID)
	out := rc4Simple(fileKey, h.Sum(nil))
	for i := 1; i <= 19; i++ {
		out = rc4Simple(xorKey(fileKey, byte(i)), out)
	}
	return append(out, make([]byte, 16)...)
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

// hash2B is the password hash of revision 5 (a single SHA-256) and revision 6
// (the iterated SHA-2/AES construction of algorithm 2.B).
func hash2B(pwd, salt, udata []byte, r int) []byte {
	h := sha256.New()
	h.Write(pwd)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if r < 6 {
		return k
	}
	for round := 0; ; round++ {
		unit := make([]byte, 0, len(pwd)+len(k)+len(udata))
		unit = append(unit, pwd...)
		unit = append(unit, k...)
		unit = append(unit, udata...)
		k1 := bytes.Repeat(unit, 64)

		block, _ := aes.NewCipher(k[:16])
		e := make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		switch sum % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
		if round >= 63 && int(e[len(e)-1]) <= round+1-32 {
			break
		}
	}
	return k[:32]
}

func parseCryptFilters(dict *raw.DictObj, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo)
	cf, ok := dict.Value("CF").(*raw.DictObj)
	if !ok {
		return out, nil
	}
	for name, obj := range cf.KV {
		entry, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, fmt.Errorf("%w: crypt filter %s is not a dictionary", ErrUnsupported, name)
		}
		algo := base
		if cfm, ok := entry.NameValue("CFM"); ok {
			switch cfm {
			case "V2":
				algo = algoRC4
			case "AESV2", "AESV3":
				algo = algoAES
			case "None":
				algo = algoNone
			default:
				return nil, fmt.Errorf("%w: crypt filter method %s", ErrUnsupported, cfm)
			}
		}
		out[name] = algo
	}
	return out, nil
}

func resolveCryptFilter(dict *raw.DictObj, key string, base cryptAlgo, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name, _ := dict.NameValue(key)
	switch name {
	case "":
		v, _ := dict.IntValue("V")
		if v >= 4 {
			// V4+ without StmF/StrF means Identity
			return algoNone, nil
		}
		return base, nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("%w: crypt filter %s not defined", ErrUnsupported, name)
}

func objectKey(fileKey []byte, objNum, gen int, r int, useAES bool) []byte {
	if r >= 5 {
		return fileKey
	}
	key := append([]byte(nil), fileKey...)
	key = append(key, byte(objNum), byte(objNum>>8), byte(objNum>>16), byte(gen), byte(gen>>8))
	if useAES {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	sum := md5.Sum(key)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func rc4Simple(key []byte, data []byte) []byte {
	out := make([]byte, len(data))
	c, err := rc4.NewCipher(key)
	if err != nil {
		return out
	}
	c.XORKeyStream(out, data)
	return out
}

// aesDecrypt handles the IV-prefixed, PKCS#5 padded layout of AESV2/AESV3 payloads.
// A malformed trailing pad is left in place rather than failing the object.
func aesDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	ct = ct[:len(ct)-len(ct)%aes.BlockSize]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(out) {
		return out, nil
	}
	return out[:len(out)-pad], nil
}

func aesEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	plain := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	out := make([]byte, aes.BlockSize+len(plain))
	if _, err := rand.Read(out[:aes.BlockSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:aes.BlockSize]).CryptBlocks(out[aes.BlockSize:], plain)
	return out, nil
}

// aesCBCRaw decrypts UE/OE: AES-256, zero IV, no padding.
func aesCBCRaw(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out, nil
}

func aesCBCRawEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out, nil
}
