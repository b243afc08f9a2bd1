package refresh

import (
	"encoding/json"
	"io"
	"strings"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func decodeJSON(r io.Reader, v interface{}) error { return json.NewDecoder(r).Decode(v) }
