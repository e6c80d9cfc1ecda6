package sign

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Sealed private keys are the base64 PKCS#8 text encrypted with an age
// scrypt recipient and ASCII-armored, so key files stay text.

const sealedHeader = "-----BEGIN AGE ENCRYPTED FILE-----"

// DefaultSealWorkFactor matches age's own scrypt default.
const DefaultSealWorkFactor = 18

func IsSealed(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(sealedHeader))
}

func SealPrivateKey(priv ed25519.PrivateKey, passphrase string, workFactor int) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required to seal a private key")
	}
	encoded, err := EncodePrivateKeyBase64(priv)
	if err != nil {
		return nil, err
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var out bytes.Buffer
	armored := armor.NewWriter(&out)
	writer, err := age.Encrypt(armored, recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}
	if _, err := io.WriteString(writer, encoded); err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finish armor: %w", err)
	}
	return out.Bytes(), nil
}

func UnsealPrivateKey(data []byte, passphrase string) (ed25519.PrivateKey, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required to unseal a private key")
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(bytes.TrimSpace(data))), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	plain, err := io.ReadAll(io.LimitReader(reader, 4096))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(plain)
}
