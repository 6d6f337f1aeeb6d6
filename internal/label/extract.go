package label

// Extractor pulls raw field values out of recognised label text
type Extractor struct {
	rules *RuleSet
}

// NewExtractor creates an Extractor for the given rule set
func NewExtractor(rules *RuleSet) *Extractor {
	return &Extractor{rules: rules}
}

// Extract returns the first value found for every field whose pattern matches.
// Fields that do not match are absent; values are never empty.
//
// A keyword followed by its separator ("Size: M") is preferred. A bare
// keyword ("Size M") is only used when it does not sit inside a value
// already claimed by a labelled field, so "Brand: Size Matters" is a brand.
func (e *Extractor) Extract(text string) map[FieldKey]string {
	fields := make(map[FieldKey]string)
	normalized := Normalize(text)
	if normalized == "" {
		return fields
	}
	bare := !e.rules.boundary.MatchString(normalized)

	type span struct{ start, end int }
	var claimed []span
	var unlabelled []*compiledRule

	for _, r := range e.rules.rules {
		m := r.labelled.FindStringSubmatchIndex(normalized)
		if m == nil {
			unlabelled = append(unlabelled, r)
			continue
		}
		value := e.rules.cutAtKeyword(normalized, m[2], m[3], bare)
		claimed = append(claimed, span{m[0], m[2] + len(value)})
		if value != "" {
			fields[r.Key] = value
		}
	}

	inClaimed := func(pos int) bool {
		for _, c := range claimed {
			if pos > c.start && pos < c.end {
				return true
			}
		}
		return false
	}

	for _, r := range unlabelled {
		for _, m := range r.pattern.FindAllStringSubmatchIndex(normalized, -1) {
			if inClaimed(m[0]) {
				continue
			}
			if value := e.rules.cutAtKeyword(normalized, m[2], m[3], bare); value != "" {
				fields[r.Key] = value
			}
			break
		}
	}
	return fields
}

// ExtractWithBarcode extracts from text and fills gaps from a decoded QR payload.
// The payload is tried as labelled text first; a bare payload that matches a
// required field's format is taken as that field's value.
func (e *Extractor) ExtractWithBarcode(text, barcode string) map[FieldKey]string {
	fields := e.Extract(text)
	payload := Normalize(barcode)
	if payload == "" {
		return fields
	}

	for key, value := range e.Extract(payload) {
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}

	for _, r := range e.rules.rules {
		if !r.Required || r.format == nil {
			continue
		}
		if _, ok := fields[r.Key]; ok {
			continue
		}
		if r.format.MatchString(payload) {
			fields[r.Key] = payload
		}
	}
	return fields
}
