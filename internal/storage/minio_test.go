package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"普通文件名", "report.pdf", "report.pdf"},
		{"含空格", "my report v2.pdf", "my_report_v2.pdf"},
		{"路径穿越", "../../etc/passwd", "passwd"},
		{"Windows路径", `C:\docs\report.pdf`, "report.pdf"},
		{"特殊字符", "a<b>c|d?.txt", "a_b_c_d_.txt"},
		{"中文文件名", "年度报告.docx", "年度报告.docx"},
		{"空文件名", "", "unnamed"},
		{"纯特殊字符", "###", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestObjectStorage_ReadyNilSafe(t *testing.T) {
	var s *ObjectStorage
	assert.False(t, s.Ready())
	assert.False(t, (&ObjectStorage{}).Ready())
}
