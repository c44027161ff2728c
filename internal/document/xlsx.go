package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXCodec extracts and rewrites translatable cell values of an XLSX
// workbook. Only string-typed cells count as translation units; numeric
// cells, formulas and empty cells pass through untouched.
type XLSXCodec struct{}

func NewXLSXCodec() *XLSXCodec {
	return &XLSXCodec{}
}

func (c *XLSXCodec) Extract(filePath string) ([]TranslationUnit, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	units := make([]TranslationUnit, 0)
	err = c.walkStringCells(f, func(sheet, cell, value string) error {
		units = append(units, TranslationUnit{
			ID:      fmt.Sprintf("u%d", len(units)),
			Text:    value,
			Scope:   fmt.Sprintf("%s!%s", sheet, cell),
			Context: fmt.Sprintf("worksheet %q", sheet),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func (c *XLSXCodec) Write(filePath, outputPath string, translations map[string]string) error {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	// Walk order is deterministic, so positional ids line up with Extract.
	index := 0
	err = c.walkStringCells(f, func(sheet, cell, value string) error {
		id := fmt.Sprintf("u%d", index)
		index++
		translated, ok := translations[id]
		if !ok || translated == value {
			return nil
		}
		return f.SetCellStr(sheet, cell, translated)
	})
	if err != nil {
		return err
	}

	// Save through a temp file so a failed write never leaves a truncated
	// workbook at outputPath.
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmpPath := outputPath + ".tmp"
	if err := f.SaveAs(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize workbook: %w", err)
	}
	return nil
}

// walkStringCells visits every non-empty string-typed cell in sheet order,
// rows top to bottom, columns left to right.
func (c *XLSXCodec) walkStringCells(f *excelize.File, visit func(sheet, cell, value string) error) error {
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for ri, row := range rows {
			for ci, value := range row {
				if strings.TrimSpace(value) == "" {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err != nil {
					return fmt.Errorf("cell name (%d,%d): %w", ci+1, ri+1, err)
				}
				cellType, err := f.GetCellType(sheet, cell)
				if err != nil {
					return fmt.Errorf("cell type %s!%s: %w", sheet, cell, err)
				}
				if cellType != excelize.CellTypeSharedString && cellType != excelize.CellTypeInlineString {
					continue
				}
				if err := visit(sheet, cell, value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
