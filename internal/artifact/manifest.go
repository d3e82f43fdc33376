package artifact

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Bundle file names.
const (
	ManifestFile  = "manifest.json"
	SignatureFile = "manifest.sig"
	ScalerFile    = "scaler.json"
	LabelMapFile  = "label_map.json"
	ONNXModelFile = "model.onnx"
	LinearFile    = "model.json"
)

// ManifestEntry describes one file entry in manifest.json.
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest mirrors manifest.json: the versioned input-vector contract of a bundle.
type Manifest struct {
	Model     string          `json:"model"`
	Version   string          `json:"version"`
	Variant   string          `json:"variant"`
	Features  []string        `json:"features,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	Files     []ManifestEntry `json:"files"`
}

// ManifestSignature holds manifest.sig contents.
type ManifestSignature struct {
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
}

// ErrManifestNotFound is returned when a bundle has no manifest.json.
var ErrManifestNotFound = errors.New("manifest not found")

// ReadManifest decodes dir/manifest.json.
func ReadManifest(dir string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrManifestNotFound
		}
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, data, nil
}

// VerifyManifest checks the manifest's variant and feature order against the
// expected contract, then the size and sha256 of every listed file. When
// publicKey is non-empty the manifest signature must verify too.
func VerifyManifest(dir, variant string, features []string, publicKey string) (*Manifest, error) {
	m, raw, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	if m.Variant != "" && !strings.EqualFold(m.Variant, variant) {
		return nil, fmt.Errorf("manifest variant mismatch: expected %s got %s", variant, m.Variant)
	}
	if len(m.Features) > 0 {
		if err := compareFeatures(features, m.Features); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(publicKey) != "" {
		pk, err := decodeKey(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode manifest public key: %w", err)
		}
		sig, err := readSignatureFile(filepath.Join(dir, SignatureFile))
		if err != nil {
			return nil, err
		}
		if !ed25519.Verify(ed25519.PublicKey(pk), raw, sig) {
			return nil, errors.New("manifest signature verification failed")
		}
	}

	for _, f := range m.Files {
		local, err := resolveBundlePath(dir, filepath.FromSlash(f.Path))
		if err != nil {
			return nil, fmt.Errorf("resolve path %s: %w", f.Path, err)
		}
		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.Path, err)
		}
		if f.Size > 0 && info.Size() != f.Size {
			return nil, fmt.Errorf("size mismatch for %s: expected %d got %d", f.Path, f.Size, info.Size())
		}
		if f.SHA256 == "" {
			continue
		}
		sum, err := fileSHA256(local)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f.Path, err)
		}
		if !strings.EqualFold(sum, f.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %s: expected %s got %s", f.Path, f.SHA256, sum)
		}
	}
	return m, nil
}

// WriteManifest hashes the known bundle files present in dir and writes
// manifest.json describing them.
func WriteManifest(dir, model, version, variant string, features []string) (*Manifest, error) {
	m := &Manifest{
		Model:     model,
		Version:   version,
		Variant:   variant,
		Features:  append([]string(nil), features...),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, name := range []string{ONNXModelFile, LinearFile, ScalerFile, LabelMapFile} {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		sum, err := fileSHA256(p)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", name, err)
		}
		m.Files = append(m.Files, ManifestEntry{Path: name, SHA256: sum, Size: info.Size()})
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

func compareFeatures(want, got []string) error {
	if len(want) != len(got) {
		return fmt.Errorf("manifest declares %d features, schema has %d", len(got), len(want))
	}
	for i := range want {
		if !strings.EqualFold(strings.TrimSpace(got[i]), want[i]) {
			return fmt.Errorf("feature %d mismatch: manifest %q, schema %q", i, got[i], want[i])
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func resolveBundlePath(dir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errors.New("absolute paths are not allowed")
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes bundle directory")
	}
	return filepath.Join(dir, clean), nil
}

func readSignatureFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest signature: %w", err)
	}
	encoded := strings.TrimSpace(string(data))
	var sig ManifestSignature
	if jsonErr := json.Unmarshal(data, &sig); jsonErr == nil && strings.TrimSpace(sig.Signature) != "" {
		if sig.Algorithm != "" && !strings.EqualFold(sig.Algorithm, "ed25519") {
			return nil, fmt.Errorf("unsupported signature algorithm %q", sig.Algorithm)
		}
		encoded = strings.TrimSpace(sig.Signature)
	}
	raw, err := decodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode manifest signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("manifest signature has %d bytes, expected %d", len(raw), ed25519.SignatureSize)
	}
	return raw, nil
}

func decodeKey(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	return hex.DecodeString(v)
}
