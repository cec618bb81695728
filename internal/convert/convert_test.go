package convert

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/bankfeed/internal/importer"
	"github.com/ledgerline/bankfeed/internal/model"
)

func italian(t *testing.T) *Converter {
	t.Helper()
	c, err := New("it")
	require.NoError(t, err)
	return c
}

func txn(amount string) model.BankTransaction {
	return model.BankTransaction{
		Date:        time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString(amount),
		Description: "Spesa",
		AccountIBAN: "IT01",
	}
}

func TestRow_SignSplit(t *testing.T) {
	c := italian(t)

	assert.Equal(t, []string{"2024-03-09", "marzo", "Spesa", "", "42.50", "", "IT01"}, c.Row(txn("-42.50")))
	assert.Equal(t, []string{"2024-03-09", "marzo", "Spesa", "100.00", "", "", "IT01"}, c.Row(txn("100")))
}

func TestRow_ZeroAndUnparseableLeaveBothEmpty(t *testing.T) {
	c := italian(t)

	row := c.Row(txn("0"))
	assert.Empty(t, row[3])
	assert.Empty(t, row[4])

	bad := model.BankTransaction{AmountRaw: "n/a", Description: "?"}
	row = c.Row(bad)
	assert.Equal(t, []string{"", "", "?", "", "", "", ""}, row)
}

func TestRow_Idempotent(t *testing.T) {
	c := italian(t)
	in := txn("-42.50")
	assert.Equal(t, c.Row(in), c.Row(in))
}

func TestNew_Locales(t *testing.T) {
	en, err := New("en-GB")
	require.NoError(t, err)
	assert.Equal(t, "March", en.Row(txn("1"))[1])
	assert.Equal(t, "credit", en.Header()[3])

	_, err = New("de")
	assert.ErrorContains(t, err, "not supported")

	_, err = New("not a tag!")
	assert.Error(t, err)
}

func TestWrite_FromExportFixture(t *testing.T) {
	txns, err := importer.ParseFile(&importer.ExportParser{}, "../../testdata/transactions.csv")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, italian(t).Write(&buf, txns))

	want, err := os.ReadFile("../../testdata/transactions_converted.csv")
	require.NoError(t, err)
	assert.Equal(t, string(want), buf.String())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, italian(t).WriteFile(path, []model.BankTransaction{txn("-1")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data,mese,descrizione,importo entrata,importo uscita,categoria,conto\n2024-03-09,marzo,Spesa,,1.00,,IT01\n", string(data))
}

func TestOutputPath(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, filepath.Join("out", "transactions_converted_20240506_070809.csv"), OutputPath(filepath.Join("out", "transactions.csv"), now))
}
