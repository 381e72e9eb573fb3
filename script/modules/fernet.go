package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/fernet/fernet-go"

	"github.com/tinysse/tinysse/script"
)

// Fernet installs the fernet module: genkey/encrypt/decrypt, implementing
// the public Fernet format (symmetric authenticated encryption with a
// signed, timestamped token).
type Fernet struct{}

func (Fernet) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("genkey", e.L.NewFunction(fernetGenkey))
	tbl.RawSetString("encrypt", e.L.NewFunction(fernetEncrypt))
	tbl.RawSetString("decrypt", e.L.NewFunction(fernetDecrypt))
	e.L.SetGlobal("fernet", tbl)
	return nil
}

func fernetGenkey(L *lua.LState) int {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		L.RaiseError("fernet.genkey: %v", err)
		return 0
	}
	L.Push(lua.LString(k.Encode()))
	return 1
}

func fernetEncrypt(L *lua.LState) int {
	plaintext := L.CheckString(1)
	keyStr := L.CheckString(2)

	k, err := fernet.DecodeKey(keyStr)
	if err != nil {
		L.RaiseError("fernet.encrypt: %v", err)
		return 0
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), k)
	if err != nil {
		L.RaiseError("fernet.encrypt: %v", err)
		return 0
	}
	L.Push(lua.LString(tok))
	return 1
}

func fernetDecrypt(L *lua.LState) int {
	token := L.CheckString(1)
	keyStr := L.CheckString(2)
	ttl := time.Duration(L.OptInt(3, 3600)) * time.Second

	k, err := fernet.DecodeKey(keyStr)
	if err != nil {
		L.RaiseError("fernet.decrypt: %v", err)
		return 0
	}
	out := fernet.VerifyAndDecrypt([]byte(token), ttl, []*fernet.Key{k})
	if out == nil {
		L.RaiseError("fernet.decrypt: invalid or expired token")
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}
