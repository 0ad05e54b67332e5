// Package transfer реализует экспорт и импорт пользовательских данных в JSON и CSV.
package transfer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ExportVersion записывается в каждый JSON-экспорт. Импорт принимает любую версию 1.x.
const ExportVersion = "1.0.0"

// timestampLayout соответствует формату yyyy-MM-dd'T'HH:mm:ss'Z' в UTC.
const timestampLayout = "2006-01-02T15:04:05Z"

const dateLayout = "2006-01-02"

// Format определяет формат файла экспорта или импорта.
type Format string

const (
	FormatJSON       Format = "json"
	FormatCSV        Format = "csv"
	FormatCSVCards   Format = "csv-cards"
	FormatCSVCredits Format = "csv-credits"
)

// ErrorKind классифицирует ошибки импорта.
type ErrorKind string

const (
	KindInvalidFormat         ErrorKind = "invalid_format"
	KindUnsupportedVersion    ErrorKind = "unsupported_version"
	KindCorruptedData         ErrorKind = "corrupted_data"
	KindMissingRequiredFields ErrorKind = "missing_required_fields"
	KindValidationFailed      ErrorKind = "validation_failed"
	KindFileReadError         ErrorKind = "file_read_error"
)

// ImportError описывает причину отказа в импорте.
type ImportError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ImportError) Error() string {
	var msg string
	switch e.Kind {
	case KindInvalidFormat:
		msg = "invalid file format"
	case KindUnsupportedVersion:
		msg = "unsupported export version"
	case KindCorruptedData:
		msg = "import file is corrupted or incomplete"
	case KindMissingRequiredFields:
		msg = "import file is missing required fields"
	case KindValidationFailed:
		msg = "data validation failed"
	case KindFileReadError:
		msg = "unable to read import file"
	default:
		msg = "import failed"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки импорта по виду.
func (e *ImportError) Is(target error) bool {
	t, ok := target.(*ImportError)
	return ok && t.Kind == e.Kind && t.Detail == ""
}

// Образцы для errors.Is.
var (
	ErrInvalidFormat         = &ImportError{Kind: KindInvalidFormat}
	ErrUnsupportedVersion    = &ImportError{Kind: KindUnsupportedVersion}
	ErrCorruptedData         = &ImportError{Kind: KindCorruptedData}
	ErrMissingRequiredFields = &ImportError{Kind: KindMissingRequiredFields}
	ErrValidationFailed      = &ImportError{Kind: KindValidationFailed}
	ErrFileReadError         = &ImportError{Kind: KindFileReadError}
)

func importErr(kind ErrorKind, detail string, err error) error {
	return &ImportError{Kind: kind, Detail: detail, Err: err}
}

// DetectFormat определяет формат данных: сначала проверяется JSON, затем CSV.
func DetectFormat(data []byte) (Format, bool) {
	if json.Valid(data) {
		return FormatJSON, true
	}
	if utf8.Valid(data) {
		s := string(data)
		if strings.Contains(s, ",") && strings.Contains(s, "\n") {
			return FormatCSV, true
		}
	}
	return "", false
}

// Filename возвращает имя файла экспорта для формата f.
func Filename(f Format, at time.Time) string {
	ts := at.Format("2006-01-02_15-04-05")
	switch f {
	case FormatJSON:
		return fmt.Sprintf("MyCardBook_Export_%s.json", ts)
	case FormatCSVCards:
		return fmt.Sprintf("MyCardBook_Cards_%s.csv", ts)
	case FormatCSVCredits:
		return fmt.Sprintf("MyCardBook_Credits_%s.csv", ts)
	default:
		return fmt.Sprintf("MyCardBook_Export_%s.txt", ts)
	}
}
