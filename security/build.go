package security

import (
	"crypto/rand"
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

// Method selects the cipher of a Standard security handler built by NewEncryption.
type Method int

const (
	MethodRC4_40 Method = iota
	MethodRC4_128
	MethodAES128
	MethodAES256
)

// NewEncryption returns an Encrypt dictionary and a matching handler. The
// handler is already authenticated and can encrypt object payloads, which is
// how encrypted documents are produced for round-trip checks.
func NewEncryption(method Method, userPwd, ownerPwd string, fileID []byte) (*raw.DictObj, Handler, error) {
	if ownerPwd == "" {
		ownerPwd = userPwd
	}
	const perms = int32(-4)
	enc := raw.Dict()
	enc.Put("Filter", raw.NameLiteral("Standard"))
	enc.Put("P", raw.NumberInt(int64(perms)))

	var v, r, keyLen int
	switch method {
	case MethodRC4_40:
		v, r, keyLen = 1, 2, 5
	case MethodRC4_128:
		v, r, keyLen = 2, 3, 16
	case MethodAES128:
		v, r, keyLen = 4, 4, 16
	case MethodAES256:
		return newAES256(enc, userPwd, ownerPwd)
	default:
		return nil, nil, fmt.Errorf("%w: method %d", ErrUnsupported, method)
	}
	enc.Put("V", raw.NumberInt(int64(v)))
	enc.Put("R", raw.NumberInt(int64(r)))
	enc.Put("Length", raw.NumberInt(int64(keyLen*8)))
	if method == MethodAES128 {
		enc.Put("CF", cryptFilterDict("AESV2", 16))
		enc.Put("StmF", raw.NameLiteral("StdCF"))
		enc.Put("StrF", raw.NameLiteral("StdCF"))
	}

	o := computeO([]byte(ownerPwd), []byte(userPwd), r, keyLen)
	key := deriveKey([]byte(userPwd), o, perms, fileID, keyLen, r, true)
	enc.Put("O", raw.Str(o))
	enc.Put("U", raw.Str(computeU(key, r, fileID)))

	h, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(fileID).WithPassword(userPwd).Build()
	if err != nil {
		return nil, nil, err
	}
	return enc, h, nil
}

func newAES256(enc *raw.DictObj, userPwd, ownerPwd string) (*raw.DictObj, Handler, error) {
	enc.Put("V", raw.NumberInt(5))
	enc.Put("R", raw.NumberInt(6))
	enc.Put("Length", raw.NumberInt(256))
	enc.Put("CF", cryptFilterDict("AESV3", 32))
	enc.Put("StmF", raw.NameLiteral("StdCF"))
	enc.Put("StrF", raw.NameLiteral("StdCF"))

	fileKey := make([]byte, 32)
	salts := make([]byte, 32)
	if _, err := rand.Read(fileKey); err != nil {
		return nil, nil, err
	}
	if _, err := rand.Read(salts); err != nil {
		return nil, nil, err
	}
	upwd, opwd := []byte(userPwd), []byte(ownerPwd)

	u := append(hash2B(upwd, salts[0:8], nil, 6), salts[0:16]...)
	ue, err := aesCBCRawEncrypt(hash2B(upwd, salts[8:16], nil, 6), fileKey)
	if err != nil {
		return nil, nil, err
	}
	o := append(hash2B(opwd, salts[16:24], u, 6), salts[16:32]...)
	oe, err := aesCBCRawEncrypt(hash2B(opwd, salts[24:32], u, 6), fileKey)
	if err != nil {
		return nil, nil, err
	}
	enc.Put("U", raw.Str(u))
	enc.Put("UE", raw.Str(ue))
	enc.Put("O", raw.Str(o))
	enc.Put("OE", raw.Str(oe))

	h, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithPassword(userPwd).Build()
	if err != nil {
		return nil, nil, err
	}
	return enc, h, nil
}

func cryptFilterDict(cfm string, length int64) *raw.DictObj {
	std := raw.Dict()
	std.Put("CFM", raw.NameLiteral(cfm))
	std.Put("AuthEvent", raw.NameLiteral("DocOpen"))
	std.Put("Length", raw.NumberInt(length))
	cf := raw.Dict()
	cf.Put("StdCF", std)
	return cf
}
