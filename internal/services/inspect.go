package services

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pdfMagic = []byte("%PDF-")

var disablePDFConfigDir sync.Once

// inspectPageCount returns the page count of a PDF document, or 0 for anything else.
// Inspection never fails a submission.
func inspectPageCount(logCtx *slog.Logger, data []byte) int {
	if !bytes.HasPrefix(data, pdfMagic) {
		return 0
	}
	// Functions run on a read-only filesystem.
	disablePDFConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		logCtx.Warn("Could not read PDF page count.", "error", err)
		return 0
	}
	return pageCount
}
