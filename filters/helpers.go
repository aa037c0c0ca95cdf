package filters

import "github.com/lyricwulf/pdf-ruiner/ir/raw"

// ExtractFilters reads Filter and DecodeParms (or the inline-image F and DP
// abbreviations) from a stream dictionary. resolve dereferences indirect
// entries and may be nil when the dictionary holds only direct objects.
func ExtractFilters(dict *raw.DictObj, resolve func(raw.Object) raw.Object) ([]string, []*raw.DictObj) {
	if resolve == nil {
		resolve = func(o raw.Object) raw.Object { return o }
	}
	var names []string
	var params []*raw.DictObj

	filterObj := dict.Value("Filter")
	if filterObj == nil {
		filterObj = dict.Value("F")
	}
	if filterObj == nil {
		return nil, nil
	}
	switch f := resolve(filterObj).(type) {
	case raw.NameObj:
		names = append(names, Canonical(f.Val))
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := resolve(item).(raw.NameObj); ok {
				names = append(names, Canonical(n.Val))
			}
		}
	}

	parmsObj := dict.Value("DecodeParms")
	if parmsObj == nil {
		parmsObj = dict.Value("DP")
	}
	switch p := resolve(parmsObj).(type) {
	case *raw.DictObj:
		params = append(params, p)
	case *raw.ArrayObj:
		for _, item := range p.Items {
			d, _ := resolve(item).(*raw.DictObj)
			params = append(params, d)
		}
	}
	return names, params
}
