package artifact

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/straja-ai/liverstage/internal/display"
	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/schema"
)

func demoDir(t *testing.T, variant string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), variant)
	if _, err := WriteDemoBundle(dir, variant); err != nil {
		t.Fatalf("write demo bundle: %v", err)
	}
	return dir
}

func stageSampleInput() map[string]float64 {
	return map[string]float64{
		"age": 30, "sex": 0, "albumin": 3.5, "alk_phos": 200, "alt": 30, "ast": 30,
		"bilirubin": 1.0, "cholinesterase": 6.0, "cholesterol": 200,
		"creatinine": 1.0, "gamma_gt": 30, "protein": 7.0,
	}
}

func TestLoadStageEndToEnd(t *testing.T) {
	p, err := Load(Options{Variant: "stage", BundleDir: demoDir(t, "stage"), VerifyManifest: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer p.Close()

	res, err := p.PredictNamed(context.Background(), stageSampleInput())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !contains(DemoStageLabels, res.Label) {
		t.Fatalf("label %q not in stage label set", res.Label)
	}
	if res.Color == display.DefaultColor || !res.KnownLabel {
		t.Fatalf("known stage should map to a non-default color, got %+v", res)
	}
	if !res.Scaled {
		t.Fatalf("stage pipeline should be scaled")
	}
	info := p.Info()
	if info.ModelVersion != DemoVersion || info.ScalerKind != "standard" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestStageMidpointsDoNotForceMostSevere(t *testing.T) {
	p, err := Load(Options{Variant: "stage", BundleDir: demoDir(t, "stage")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := p.Predict(context.Background(), schema.Stage().Midpoints())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if strings.EqualFold(res.Label, "cirrhosis") {
		t.Fatalf("normal-range midpoints should not predict cirrhosis")
	}
}

func TestRiskBothBranches(t *testing.T) {
	p, err := Load(Options{Variant: "risk", BundleDir: demoDir(t, "risk"), ScalerPolicy: ScalerOptional})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	msgs := display.DefaultBinaryMessages()

	res, err := p.Predict(context.Background(), schema.Risk().Defaults())
	if err != nil {
		t.Fatalf("predict defaults: %v", err)
	}
	if res.Index != 0 && res.Index != 1 {
		t.Fatalf("flag must be 0 or 1, got %d", res.Index)
	}
	if res.Message != msgs.Render(res.Index).Message {
		t.Fatalf("flag %d rendered with wrong template %q", res.Index, res.Message)
	}
	if res.Index != 0 {
		t.Fatalf("demo defaults should be low risk, got %+v", res)
	}

	high, err := p.PredictNamed(context.Background(), map[string]float64{
		"total_bilirubin": 75, "direct_bilirubin": 19, "alkaline_phosphotase": 2000,
		"alamine_aminotransferase": 2000, "aspartate_aminotransferase": 4000,
	})
	if err != nil {
		t.Fatalf("predict high: %v", err)
	}
	if high.Index != 1 || high.Message != msgs.High.Message {
		t.Fatalf("expected high risk, got %+v", high)
	}
}

func TestDeterministicPredictions(t *testing.T) {
	p, err := Load(Options{Variant: "stage", BundleDir: demoDir(t, "stage")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	in := schema.Stage().Defaults()
	first, err := p.Predict(context.Background(), in)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := p.Predict(context.Background(), in)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("prediction changed (-first +again):\n%s", diff)
		}
	}
}

func TestOptionalScalerFallback(t *testing.T) {
	dir := demoDir(t, "risk")
	if err := os.Remove(filepath.Join(dir, ScalerFile)); err != nil {
		t.Fatalf("remove scaler: %v", err)
	}

	p, err := Load(Options{Variant: "risk", BundleDir: dir, ScalerPolicy: ScalerOptional})
	if err != nil {
		t.Fatalf("optional scaler should not fail load: %v", err)
	}
	res, err := p.Predict(context.Background(), schema.Risk().Defaults())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if res.Scaled || p.Scaled() {
		t.Fatalf("pipeline should run unscaled")
	}
	if !strings.HasPrefix(p.Info().ScalerNote, "unavailable") {
		t.Fatalf("expected scaler note, got %q", p.Info().ScalerNote)
	}

	if _, err := Load(Options{Variant: "risk", BundleDir: dir, ScalerPolicy: ScalerRequired}); err == nil {
		t.Fatalf("required scaler should fail load")
	}
}

func TestLoadFailures(t *testing.T) {
	t.Run("missing dir", func(t *testing.T) {
		if _, err := Load(Options{Variant: "stage", BundleDir: filepath.Join(t.TempDir(), "nope")}); err == nil {
			t.Fatalf("expected error")
		}
	})
	t.Run("unknown variant", func(t *testing.T) {
		if _, err := Load(Options{Variant: "hcv", BundleDir: t.TempDir()}); err == nil {
			t.Fatalf("expected error")
		}
	})
	t.Run("no model", func(t *testing.T) {
		dir := demoDir(t, "stage")
		_ = os.Remove(filepath.Join(dir, LinearFile))
		if _, err := Load(Options{Variant: "stage", BundleDir: dir}); err == nil {
			t.Fatalf("expected error")
		}
	})
	t.Run("corrupt model", func(t *testing.T) {
		dir := demoDir(t, "stage")
		if err := os.WriteFile(filepath.Join(dir, LinearFile), []byte("{not json"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(Options{Variant: "stage", BundleDir: dir}); err == nil {
			t.Fatalf("expected error")
		}
	})
	t.Run("missing labels", func(t *testing.T) {
		dir := demoDir(t, "stage")
		_ = os.Remove(filepath.Join(dir, LabelMapFile))
		if _, err := Load(Options{Variant: "stage", BundleDir: dir}); err == nil {
			t.Fatalf("expected error")
		}
	})
	t.Run("tampered file", func(t *testing.T) {
		dir := demoDir(t, "stage")
		if err := os.WriteFile(filepath.Join(dir, LabelMapFile), []byte(`["a","b","c","d","e"]`), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := Load(Options{Variant: "stage", BundleDir: dir, VerifyManifest: true})
		if err == nil || !strings.Contains(err.Error(), "mismatch") {
			t.Fatalf("expected integrity error, got %v", err)
		}
	})
	t.Run("wrong variant bundle", func(t *testing.T) {
		_, err := Load(Options{Variant: "stage", BundleDir: demoDir(t, "risk"), VerifyManifest: true})
		if err == nil {
			t.Fatalf("expected variant mismatch")
		}
	})
}

func TestVerifyManifestFeatureOrder(t *testing.T) {
	dir := demoDir(t, "risk")
	names := schema.Risk().Names()
	names[2], names[3] = names[3], names[2]
	if _, err := WriteManifest(dir, "demo-risk", DemoVersion, "risk", names); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	_, err := VerifyManifest(dir, "risk", schema.Risk().Names(), "")
	if err == nil || !strings.Contains(err.Error(), "feature 2 mismatch") {
		t.Fatalf("expected feature order error, got %v", err)
	}
}

func TestVerifyManifestSignature(t *testing.T) {
	dir := demoDir(t, "stage")
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, raw))
	body := `{"algorithm":"ed25519","signature":"` + sig + `"}`
	if err := os.WriteFile(filepath.Join(dir, SignatureFile), []byte(body), 0o644); err != nil {
		t.Fatalf("write sig: %v", err)
	}
	pk := base64.StdEncoding.EncodeToString(pub)

	if _, err := VerifyManifest(dir, "stage", schema.Stage().Names(), pk); err != nil {
		t.Fatalf("verify: %v", err)
	}

	otherPub, _, _ := ed25519.GenerateKey(nil)
	if _, err := VerifyManifest(dir, "stage", schema.Stage().Names(), base64.StdEncoding.EncodeToString(otherPub)); err == nil {
		t.Fatalf("expected signature failure with wrong key")
	}
}

func TestScalers(t *testing.T) {
	std, err := NewScaler(ScalerSpec{Kind: "standard", Mean: []float64{1, 2}, Scale: []float64{2, 0}}, 2)
	if err != nil {
		t.Fatalf("standard: %v", err)
	}
	got, err := std.Transform(inference.FeatureVector{5, 3})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if diff := cmp.Diff(inference.FeatureVector{2, 1}, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("standard transform (-want +got):\n%s", diff)
	}

	mm, err := NewScaler(ScalerSpec{Kind: "minmax", Min: []float64{-0.5, 0}, Scale: []float64{0.1, 0.5}}, 2)
	if err != nil {
		t.Fatalf("minmax: %v", err)
	}
	got, err = mm.Transform(inference.FeatureVector{10, 4})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if diff := cmp.Diff(inference.FeatureVector{0.5, 2}, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("minmax transform (-want +got):\n%s", diff)
	}

	if _, err := std.Transform(inference.FeatureVector{1}); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := NewScaler(ScalerSpec{Kind: "robust", Scale: []float64{1}}, 1); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := NewScaler(ScalerSpec{Kind: "standard", Mean: []float64{1}, Scale: []float64{1}}, 2); err == nil {
		t.Fatalf("expected fitted-length error")
	}
}

func TestLinearClassifier(t *testing.T) {
	multi, err := NewLinear(LinearSpec{
		Classes:   []int{0, 1, 2},
		Coef:      [][]float64{{1, 0}, {0, 1}, {-1, -1}},
		Intercept: []float64{0, 0, 0.5},
	}, 2)
	if err != nil {
		t.Fatalf("multi: %v", err)
	}
	cases := []struct {
		in   inference.FeatureVector
		want int
	}{
		{in: inference.FeatureVector{3, 1}, want: 0},
		{in: inference.FeatureVector{1, 3}, want: 1},
		{in: inference.FeatureVector{-1, -1}, want: 2},
	}
	for _, tc := range cases {
		got, err := multi.Predict(context.Background(), tc.in)
		if err != nil {
			t.Fatalf("predict %v: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("predict %v: expected %d, got %d", tc.in, tc.want, got)
		}
	}

	bin, err := NewLinear(LinearSpec{Classes: []int{0, 1}, Coef: [][]float64{{1, -1}}, Intercept: []float64{0}}, 2)
	if err != nil {
		t.Fatalf("binary: %v", err)
	}
	if got, _ := bin.Predict(context.Background(), inference.FeatureVector{2, 1}); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got, _ := bin.Predict(context.Background(), inference.FeatureVector{1, 2}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}

	bad := []LinearSpec{
		{Classes: []int{0, 1}},
		{Classes: []int{0, 1}, Coef: [][]float64{{1, 1}}},
		{Classes: []int{0}, Coef: [][]float64{{1, 1}}, Intercept: []float64{0}},
		{Classes: []int{0, 1}, Coef: [][]float64{{1}}, Intercept: []float64{0}},
		{Classes: []int{0, 1}, Coef: [][]float64{{1, 1}, {1, 1}, {1, 1}}, Intercept: []float64{0, 0, 0}},
	}
	for i, spec := range bad {
		if _, err := NewLinear(spec, 2); err == nil {
			t.Fatalf("bad spec %d should fail", i)
		}
	}
}

func TestLoadLabelsIndexMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), LabelMapFile)
	if err := os.WriteFile(path, []byte(`{"1":"fibrosis","0":"cirrhosis"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadLabels(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"cirrhosis", "fibrosis"}, got); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(path, []byte(`{"5":"x"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadLabels(path); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestONNXTensorNames(t *testing.T) {
	tests := []struct {
		name          string
		opts          ONNXOptions
		wantIn, wantO string
	}{
		{name: "skl2onnx defaults", opts: ONNXOptions{}, wantIn: "float_input", wantO: "output_label"},
		{name: "configured", opts: ONNXOptions{InputName: " input ", OutputName: "label"}, wantIn: "input", wantO: "label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := tt.opts.tensorNames()
			if in != tt.wantIn || out != tt.wantO {
				t.Fatalf("tensorNames() = %q, %q; want %q, %q", in, out, tt.wantIn, tt.wantO)
			}
		})
	}
}

func TestResolveSharedLibraryPathPrefersConfigured(t *testing.T) {
	t.Setenv("ONNXRUNTIME_SHARED_LIBRARY_PATH", "/env/libonnxruntime.so")
	if got := resolveSharedLibraryPath(t.TempDir(), "/cfg/libonnxruntime.so"); got != "/cfg/libonnxruntime.so" {
		t.Fatalf("expected configured path, got %q", got)
	}
	if got := resolveSharedLibraryPath(t.TempDir(), ""); got != "/env/libonnxruntime.so" {
		t.Fatalf("expected env path, got %q", got)
	}
}

func TestResolveBundlePathRejectsEscape(t *testing.T) {
	if _, err := resolveBundlePath("/b", "../etc/passwd"); err == nil {
		t.Fatalf("expected escape error")
	}
	if _, err := resolveBundlePath("/b", "/etc/passwd"); err == nil {
		t.Fatalf("expected absolute path error")
	}
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
