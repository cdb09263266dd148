package malwarelist

import "encoding/json"

// CachedList is the on-disk record persisted after each successful refresh:
// the ETag (if the server returned one) plus the raw entries, so a restart
// can both revalidate and serve immediately from disk without blocking on
// the network.
type CachedList struct {
	ETag    string          `json:"etag,omitempty"`
	Entries []ListDataEntry `json:"entries"`
}

func decodeCachedList(b []byte) (CachedList, error) {
	var c CachedList
	if err := json.Unmarshal(b, &c); err != nil {
		return CachedList{}, err
	}
	return c, nil
}

func encodeCachedList(c CachedList) ([]byte, error) {
	return json.Marshal(c)
}
