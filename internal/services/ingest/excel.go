package ingest

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// ParseWorkbook читает первый лист xlsx-файла в строки накладной.
// Первая строка — заголовок, пропускается. Колонки: код товара, числовой
// код клиента, вес, цена. Числовые коды могут приходить как дробные
// ("7.0") и приводятся к целым.
func ParseWorkbook(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open workbook")
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "read sheet")
	}

	var rows []Row
	for i, line := range cells {
		if i == 0 {
			continue // заголовок
		}
		row := Row{Code: cellString(line, 0)}
		row.ClientCode = cellInt(line, 1)
		row.Weight = cellFloat(line, 2)
		row.Price = cellInt(line, 3)
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(line []string, idx int) string {
	if idx >= len(line) {
		return ""
	}
	return strings.TrimSpace(line[idx])
}

func cellFloat(line []string, idx int) *float64 {
	s := cellString(line, idx)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

func cellInt(line []string, idx int) *int64 {
	v := cellFloat(line, idx)
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
