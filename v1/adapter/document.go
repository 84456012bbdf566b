package adapter

// Document is a schemaless record: a product as the storefront's admin forms
// see it, a set of named JSON fields.
type Document map[string]any

// Merge returns a copy of d with fields applied on top. A nil field value
// removes the field.
func (d Document) Merge(fields map[string]any) Document {
	out := make(Document, len(d)+len(fields))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range fields {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
