package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSpotBot/internal/domain"
)

var csvPair = domain.CurrencyPair{Base: "ETH", Quote: "USDT"}

func sampleTicks(t *testing.T) []domain.Tick {
	t.Helper()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []domain.Tick{
		{Pair: csvPair, Price: decimal.RequireFromString("2000.5"), Timestamp: t0},
		{Pair: csvPair, Price: decimal.RequireFromString("2001"), Timestamp: t0.Add(1500 * time.Millisecond)},
		{Pair: csvPair, Price: decimal.RequireFromString("1999.25"), Timestamp: t0.Add(3 * time.Second)},
	}
}

func TestTicksCSVRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "ticks.csv")
	want := sampleTicks(t)

	require.NoError(t, WriteTicksToCSV(want, filename))

	got, err := ReadTicksFromCSV(filename)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Pair, got[i].Pair, "tick %d", i)
		assert.True(t, got[i].Timestamp.Equal(want[i].Timestamp), "tick %d timestamp = %s", i, got[i].Timestamp)
		assert.True(t, got[i].Price.Equal(want[i].Price), "tick %d price = %s", i, got[i].Price)
	}
}

func TestReadTicksFromCSV(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		filename := filepath.Join(t.TempDir(), "ticks.csv")
		require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
		return filename
	}

	t.Run("header row is optional", func(t *testing.T) {
		filename := writeFile(t, "2024-05-01T10:00:00Z,ETH/USDT,2000.5\n")

		ticks, err := ReadTicksFromCSV(filename)
		require.NoError(t, err)
		require.Len(t, ticks, 1)
		assert.Equal(t, csvPair, ticks[0].Pair)
		assert.True(t, ticks[0].Price.Equal(decimal.RequireFromString("2000.5")))
	})

	t.Run("rejects a malformed timestamp", func(t *testing.T) {
		filename := writeFile(t, "timestamp,pair,price\nnot-a-time,ETH/USDT,2000\n")

		_, err := ReadTicksFromCSV(filename)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing timestamp")
		assert.Contains(t, err.Error(), "row 2")
	})

	t.Run("rejects a malformed pair", func(t *testing.T) {
		filename := writeFile(t, "timestamp,pair,price\n2024-05-01T10:00:00Z,ETHUSDT,2000\n")

		_, err := ReadTicksFromCSV(filename)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing pair")
	})

	t.Run("rejects a malformed price", func(t *testing.T) {
		filename := writeFile(t, "timestamp,pair,price\n2024-05-01T10:00:00Z,ETH/USDT,abc\n")

		_, err := ReadTicksFromCSV(filename)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing price")
	})

	t.Run("rejects rows with the wrong field count", func(t *testing.T) {
		filename := writeFile(t, "timestamp,pair,price\n2024-05-01T10:00:00Z,ETH/USDT\n")

		_, err := ReadTicksFromCSV(filename)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadTicksFromCSV(filepath.Join(t.TempDir(), "does-not-exist.csv"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opening")
	})

	t.Run("empty file yields no ticks", func(t *testing.T) {
		filename := writeFile(t, "")

		ticks, err := ReadTicksFromCSV(filename)
		require.NoError(t, err)
		assert.Empty(t, ticks)
	})
}
