package shopify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/Sternrassler/harvester/pkg/descriptor"
)

// ErrNoMetafieldColumns is returned when a product import file has no
// Handle column or no metafields.<namespace>.<key> columns.
var ErrNoMetafieldColumns = errors.New("csv needs a Handle column and at least one metafields.<namespace>.<key> column")

// MetafieldRow is one metafield value read from a product import file.
type MetafieldRow struct {
	Handle    string
	Namespace string
	Key       string
	Value     string
}

type metafieldColumn struct {
	index     int
	namespace string
	key       string
}

// ParseMetafieldCSV reads a Shopify product import file extended with
// metafields.<namespace>.<key> columns. Only the first row of each handle is
// used and empty cells are skipped.
func ParseMetafieldCSV(r io.Reader) ([]MetafieldRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoMetafieldColumns
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	handleIdx := -1
	var columns []metafieldColumn
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "Handle" {
			handleIdx = i
			continue
		}
		if !strings.Contains(name, "metafields") {
			continue
		}
		parts := strings.Split(name, ".")
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("metafield column %q: want metafields.<namespace>.<key>", name)
		}
		columns = append(columns, metafieldColumn{index: i, namespace: parts[1], key: parts[2]})
	}
	if handleIdx < 0 || len(columns) == 0 {
		return nil, ErrNoMetafieldColumns
	}

	seen := make(map[string]bool)
	var rows []MetafieldRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		handle := strings.TrimSpace(cell(record, handleIdx))
		if handle == "" || seen[handle] {
			continue
		}
		seen[handle] = true

		for _, col := range columns {
			value := cell(record, col.index)
			if strings.TrimSpace(value) == "" {
				continue
			}
			rows = append(rows, MetafieldRow{
				Handle:    handle,
				Namespace: col.namespace,
				Key:       col.key,
				Value:     value,
			})
		}
	}
	return rows, nil
}

func cell(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

// HandleIndex maps lower-cased product handles to product IDs from the
// edges returned by ProductsByTag.
func HandleIndex(edges []descriptor.Record) map[string]string {
	index := make(map[string]string, len(edges))
	for _, edge := range edges {
		node, ok := edge["node"].(map[string]any)
		if !ok {
			continue
		}
		handle, _ := node["handle"].(string)
		id, _ := node["id"].(string)
		if handle == "" || id == "" {
			continue
		}
		index[strings.ToLower(handle)] = id
	}
	return index
}

// ResolveMetafields attaches product IDs to rows. Every row whose handle is
// unknown is reported; the resolvable rows are still returned.
func ResolveMetafields(rows []MetafieldRow, ids map[string]string, valueType string) ([]Metafield, error) {
	var result *multierror.Error
	metafields := make([]Metafield, 0, len(rows))
	for _, row := range rows {
		id, ok := ids[strings.ToLower(row.Handle)]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("no product with handle %q", row.Handle))
			continue
		}
		metafields = append(metafields, Metafield{
			ProductID: id,
			Namespace: row.Namespace,
			Key:       row.Key,
			Value:     row.Value,
			ValueType: valueType,
		})
	}
	return metafields, result.ErrorOrNil()
}
