package adaptive

import (
	"bytes"
	"testing"
)

var (
	key16 = make([]byte, 16)
	key24 = make([]byte, 24)
	key32 = make([]byte, 32)
)

func init() {
	for i := range key16 {
		key16[i] = byte(i)
	}
	for i := range key24 {
		key24[i] = byte(i)
	}
	for i := range key32 {
		key32[i] = byte(i)
	}
}

func TestNew(t *testing.T) {
	cipher, err := New(key32)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cipherType := cipher.Type()
	if cipherType != CipherAESGCM && cipherType != CipherChaCha20 {
		t.Errorf("New() returned unknown cipher type: %s", cipherType)
	}
}

func TestNewAESGCM(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"AES-128", key16, false},
		{"AES-192", key24, false},
		{"AES-256", key32, false},
		{"Invalid 15 bytes", make([]byte, 15), true},
		{"Invalid 17 bytes", make([]byte, 17), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cipher, err := NewAESGCM(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Error("NewAESGCM() should return error")
				}
				return
			}
			if err != nil {
				t.Errorf("NewAESGCM() error = %v", err)
			}
			if cipher == nil {
				t.Error("NewAESGCM() returned nil cipher")
			}
		})
	}
}

func TestNewChaCha20(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"Valid 32 bytes", key32, false},
		{"Invalid 16 bytes", key16, true},
		{"Invalid 24 bytes", key24, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cipher, err := NewChaCha20(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Error("NewChaCha20() should return error")
				}
				return
			}
			if err != nil {
				t.Errorf("NewChaCha20() error = %v", err)
			}
			if cipher == nil {
				t.Error("NewChaCha20() returned nil cipher")
			}
		})
	}
}

func TestAESGCM_EncryptDecrypt(t *testing.T) {
	cipher, err := NewAESGCM(key32)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	testEncryptDecrypt(t, cipher)
}

func TestChaCha20_EncryptDecrypt(t *testing.T) {
	cipher, err := NewChaCha20(key32)
	if err != nil {
		t.Fatalf("NewChaCha20() error = %v", err)
	}
	testEncryptDecrypt(t, cipher)
}

func testEncryptDecrypt(t *testing.T, cipher Cipher) {
	tests := []struct {
		name           string
		plaintext      []byte
		additionalData []byte
	}{
		{"Empty", []byte{}, nil},
		{"Simple", []byte("hello world"), nil},
		{"With AAD", []byte("secret data"), []byte("authenticated")},
		{"Large", bytes.Repeat([]byte("A"), 1024), nil},
		{"Binary", []byte{0x00, 0xFF, 0x7F, 0x80}, []byte{0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := cipher.Encrypt(tt.plaintext, tt.additionalData)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			expectedMinLen := len(tt.plaintext) + cipher.NonceSize() + cipher.Overhead()
			if len(ciphertext) < expectedMinLen {
				t.Errorf("Encrypt() ciphertext length = %d, want >= %d", len(ciphertext), expectedMinLen)
			}

			plaintext, err := cipher.Decrypt(ciphertext, tt.additionalData)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plaintext, tt.plaintext) {
				t.Errorf("Decrypt() plaintext = %v, want %v", plaintext, tt.plaintext)
			}
		})
	}
}

func TestAESGCM_DecryptTampered(t *testing.T) {
	cipher, err := NewAESGCM(key32)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	testDecryptTampered(t, cipher)
}

func TestChaCha20_DecryptTampered(t *testing.T) {
	cipher, err := NewChaCha20(key32)
	if err != nil {
		t.Fatalf("NewChaCha20() error = %v", err)
	}
	testDecryptTampered(t, cipher)
}

func testDecryptTampered(t *testing.T, cipher Cipher) {
	plaintext := []byte("secret message")
	aad := []byte("authenticated data")

	ciphertext, err := cipher.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := cipher.Decrypt(tampered, aad); err == nil {
		t.Error("Decrypt() should fail for tampered ciphertext")
	}
	if _, err := cipher.Decrypt(ciphertext, []byte("wrong aad")); err == nil {
		t.Error("Decrypt() should fail for wrong AAD")
	}
}

func TestAESGCM_DecryptTooShort(t *testing.T) {
	cipher, err := NewAESGCM(key32)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	short := make([]byte, cipher.NonceSize()-1)
	if _, err := cipher.Decrypt(short, nil); err == nil {
		t.Error("Decrypt() should fail for ciphertext shorter than nonce")
	}
}

func TestAESGCM_NonceSize(t *testing.T) {
	cipher, err := NewAESGCM(key32)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	if cipher.NonceSize() != 12 {
		t.Errorf("NonceSize() = %d, want 12", cipher.NonceSize())
	}
}

func TestAESGCM_Overhead(t *testing.T) {
	cipher, err := NewAESGCM(key32)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	if cipher.Overhead() != 16 {
		t.Errorf("Overhead() = %d, want 16", cipher.Overhead())
	}
}

func TestEncrypt_Uniqueness(t *testing.T) {
	cipher, err := NewAESGCM(key32)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}

	plaintext := []byte("same plaintext")
	results := make(map[string]bool)
	for i := 0; i < 10; i++ {
		ciphertext, err := cipher.Encrypt(plaintext, nil)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		key := string(ciphertext)
		if results[key] {
			t.Error("Encrypt() produced duplicate ciphertext (nonce collision)")
		}
		results[key] = true
	}
}

func BenchmarkAESGCM_Encrypt_1KB(b *testing.B) {
	cipher, _ := NewAESGCM(key32)
	plaintext := bytes.Repeat([]byte("A"), 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cipher.Encrypt(plaintext, nil)
	}
}

func BenchmarkChaCha20_Encrypt_1KB(b *testing.B) {
	cipher, _ := NewChaCha20(key32)
	plaintext := bytes.Repeat([]byte("A"), 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cipher.Encrypt(plaintext, nil)
	}
}
