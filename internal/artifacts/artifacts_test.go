package artifacts

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/trychlos/TheToolsProject-sub002/internal/storage"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/catalog/item?id=2|if:0#nav#/nav", "catalog_item_id_2_if_0_nav_nav"},
		{"///", "root"},
		{"", "root"},
		{"simple", "simple"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, SafeName(tc.in), "input %q", tc.in)
	}

	long := SafeName(strings.Repeat("a", 500))
	require.Len(t, long, 120)
}

func TestStoreLayout(t *testing.T) {
	mem := storage.NewMemory()
	store := NewStore(mem, "shop", nil)

	require.NoError(t, store.SaveHTML(context.Background(), 3, "ref", "/catalog", "", []byte("<html></html>")))
	require.NoError(t, store.SaveScreenshot(context.Background(), 3, "new", "/catalog", "", []byte{1}))
	require.NoError(t, store.SaveScreenshot(context.Background(), 3, "ref", "/catalog", "replay01", []byte{2}))

	_, ok := mem.Object("shop/ref/htmls/000003_ref_catalog.html")
	require.True(t, ok)
	_, ok = mem.Object("shop/new/screenshots/000003_new_catalog.png")
	require.True(t, ok)
	_, ok = mem.Object("shop/ref/screenshots/000003_ref_catalog_replay01.png")
	require.True(t, ok)
}

func TestStoreSkipsEmptyScreenshot(t *testing.T) {
	mem := storage.NewMemory()
	store := NewStore(mem, "shop", nil)

	require.NoError(t, store.SaveScreenshot(context.Background(), 1, "ref", "/x", "", nil))
	require.Empty(t, mem.Paths())
}

// artifactBytes reads the current webdiff_artifact_bytes_total value for one
// kind from the default registry.
func artifactBytes(t *testing.T, kind string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "webdiff_artifact_bytes_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSaveAccountsBytes(t *testing.T) {
	mem := storage.NewMemory()
	store := NewStore(mem, "shop", nil)

	htmlBefore := artifactBytes(t, "html")
	shotBefore := artifactBytes(t, "screenshot")

	require.NoError(t, store.SaveHTML(context.Background(), 1, "ref", "/", "", []byte("<html>12</html>")))
	require.NoError(t, store.SaveScreenshot(context.Background(), 1, "ref", "/", "", []byte{1, 2, 3}))

	require.Equal(t, htmlBefore+15, artifactBytes(t, "html"))
	require.Equal(t, shotBefore+3, artifactBytes(t, "screenshot"))
}

func TestSaveDiffPair(t *testing.T) {
	mem := storage.NewMemory()
	store := NewStore(mem, "shop", nil)

	require.NoError(t, store.SaveDiffPair(context.Background(), "000004_ref_home", []byte{1}, []byte{2}))

	ref, ok := mem.Object("shop/diffs/000004_ref_home_ref.png")
	require.True(t, ok)
	require.Equal(t, []byte{1}, ref)
	nw, ok := mem.Object("shop/diffs/000004_ref_home_new.png")
	require.True(t, ok)
	require.Equal(t, []byte{2}, nw)
}
