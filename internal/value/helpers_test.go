package value

import "encoding/json"

func jsonUnmarshal(s string, dst any) error { return json.Unmarshal([]byte(s), dst) }
