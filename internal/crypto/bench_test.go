package crypto

import (
	"testing"
)

func BenchmarkKeyDeriver_Derive(b *testing.B) {
	d := DefaultKeyDeriver()
	password := "correct-horse-battery-staple"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = d.Derive("alice", password)
	}
}

func BenchmarkEncryptDecrypt(b *testing.B) {
	key, err := GenerateKey()
	if err != nil {
		b.Fatal(err)
	}
	payload := make([]byte, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sealed, err := Encrypt(payload, key)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Decrypt(sealed, key); err != nil {
			b.Fatalf("decrypt failed: %v", err)
		}
	}
}
