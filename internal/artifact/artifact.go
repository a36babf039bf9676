// Package artifact reads and writes versioned model files.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	KindAnomaly = "anomaly"
	KindRisk    = "risk"
)

// Header is embedded at the top of every artifact.
type Header struct {
	Kind        string
	Version     string
	CreatedAt   time.Time
	Fingerprint string
}

// Encode gob-encodes v.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes data into v.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("empty artifact")
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// WriteFile encodes v and writes it atomically to path.
func WriteFile(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile decodes the artifact at path into v and returns the sha256 of its
// bytes.
func ReadFile(path string, v any) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := Decode(data, v); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return Checksum(data), nil
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
