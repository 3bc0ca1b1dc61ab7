package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"maChuyen", "Cước phí"},
		Rows: []map[string]string{
			{"maChuyen": "BK03.0001", "Cước phí": "500000"},
			{},
			{"maChuyen": "BK03.0002", "Cước phí": "120000.5"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte(utf8BOM)))
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(string(out), utf8BOM)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "maChuyen,Cước phí", lines[0])
	assert.Equal(t, "BK03.0001,500000", lines[1])

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestXLSXRoundTripSkipsBlankRows(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleDataset(), "Chuyen")
	require.NoError(t, err)

	headers, rows, err := ReadXLSX(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, []string{"maChuyen", "Cước phí"}, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, []string{"BK03.0001", "500000"}, rows[0].Cells)
	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "120000.5", rows[1].Cells[1])
}

func TestReadXLSXRejectsGarbage(t *testing.T) {
	_, _, err := ReadXLSX(strings.NewReader("not a workbook"))
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset(), "Lịch sử chỉnh sửa")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestFoldText(t *testing.T) {
	assert.Equal(t, "Dieu van da duyet", foldText("Điều vận đã duyệt"))
	assert.Equal(t, "plain", foldText("plain"))
}
