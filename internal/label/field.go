package label

// FieldKey identifies one datum printed on a SIRIM label
type FieldKey string

const (
	SerialNumber FieldKey = "serialNumber"
	BatchNumber  FieldKey = "batchNumber"
	Brand        FieldKey = "brand"
	Model        FieldKey = "model"
	Type         FieldKey = "type"
	Rating       FieldKey = "rating"
	Size         FieldKey = "size"
)

// Keys is the display and export column order
var Keys = []FieldKey{SerialNumber, BatchNumber, Brand, Model, Type, Rating, Size}

var headers = map[FieldKey]string{
	SerialNumber: "SIRIM Serial No.",
	BatchNumber:  "Batch No.",
	Brand:        "Brand/Trademark",
	Model:        "Model",
	Type:         "Type",
	Rating:       "Rating",
	Size:         "Size",
}

var displayNames = map[FieldKey]string{
	SerialNumber: "Serial number",
	BatchNumber:  "Batch number",
	Brand:        "Brand",
	Model:        "Model",
	Type:         "Type",
	Rating:       "Rating",
	Size:         "Size",
}

// Header returns the column header printed by exports
func (k FieldKey) Header() string {
	if h, ok := headers[k]; ok {
		return h
	}
	return string(k)
}

// DisplayName returns the human readable name used in messages
func (k FieldKey) DisplayName() string {
	if n, ok := displayNames[k]; ok {
		return n
	}
	return string(k)
}

// Headers returns the export headers in column order
func Headers() []string {
	out := make([]string, len(Keys))
	for i, k := range Keys {
		out[i] = k.Header()
	}
	return out
}
