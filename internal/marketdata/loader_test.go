package marketdata_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bourse/internal/marketdata"
)

func writeDataset(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadCSVParsesQuotesAndDividends(t *testing.T) {
	path := writeDataset(t, "100,ABC,100,101\n101,ABC,104,105\n101,ABC,dividend,0.5\n")

	src, err := marketdata.LoadCSV(path)
	require.NoError(t, err)

	q, ok := src.GetQuote(100, "ABC")
	require.True(t, ok)
	require.Equal(t, 100.0, q.Bid)
	require.Equal(t, 101.0, q.Ask)

	divs := src.GetDividends(101)
	require.Len(t, divs, 1)
	require.Equal(t, 0.5, divs[0].PerShareAmount)
}

func TestLoadCSVParsesDepthRows(t *testing.T) {
	path := writeDataset(t, "100,ABC,100,101,10,20,5,15\n")

	src, err := marketdata.LoadCSV(path)
	require.NoError(t, err)

	d, ok := src.GetDepth(100, "ABC")
	require.True(t, ok)
	require.Len(t, d.Bids, 2)
	require.Len(t, d.Asks, 2)
	require.Equal(t, 10.0, d.Bids[0].Size)
	require.Equal(t, 5.0, d.Asks[0].Size)
}

func TestLoadCSVMalformedRowErrors(t *testing.T) {
	path := writeDataset(t, "not-a-timestamp,ABC,100,101\n")
	_, err := marketdata.LoadCSV(path)
	require.Error(t, err)
}

func TestLoadCSVEmptyFile(t *testing.T) {
	path := writeDataset(t, "")
	src, err := marketdata.LoadCSV(path)
	require.NoError(t, err)
	require.Empty(t, src.Dates())
}
