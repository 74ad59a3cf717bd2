package discovery

import "strings"

// filePointerPatterns are column-name substrings that indicate a column
// stores a reference to an external file rather than inline data.
var filePointerPatterns = []string{
	"file_path",
	"file_url",
	"image_url",
	"media_url",
	"attachment",
	"thumbnail",
	"avatar",
	"logo",
	"document",
	"asset_url",
}

// IsFilePointerColumn reports whether a column name looks like a reference
// to an externally stored file.
func IsFilePointerColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range filePointerPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// FilePointerColumns returns the columns of a table that reference external
// files, in column order.
func FilePointerColumns(columns []Column) []string {
	var matched []string
	for _, col := range columns {
		if IsFilePointerColumn(col.Name) {
			matched = append(matched, col.Name)
		}
	}
	return matched
}
