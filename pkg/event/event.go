package event

// Package event turns the objects that raised an alert into the JSON result,
// and holds that result in a buffer that is reused from one call to the next.

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cyclopcam/evsdk/pkg/nn"
)

const AlertFlagKey = "alert_flag"

const (
	AlertFlagFalse = 0
	AlertFlagTrue  = 1
)

// One entry of the object list. Field order is part of the output format.
type object struct {
	XMin       int     `json:"xmin"`
	YMin       int     `json:"ymin"`
	XMax       int     `json:"xmax"`
	YMax       int     `json:"ymax"`
	Confidence float32 `json:"confidence"`
}

// Marshal produces the result JSON:
//
//	{"alert_flag": 1, "<objectsKey>": [{"xmin": 1, "ymin": 2, "xmax": 3, "ymax": 4, "confidence": 0.9}]}
//
// indented with tabs, with encoding/json's "key": value spacing. Field names and order are fixed,
// but the whitespace is not byte-compatible with other JSON printers (cJSON writes "key":\tvalue).
// xmax and ymax are the bottom-right corner of the box.
// The same input always produces the same bytes.
func Marshal(alert bool, objectsKey string, objects []nn.DetectedObject) []byte {
	list := make([]object, 0, len(objects))
	for _, o := range objects {
		list = append(list, object{
			XMin:       o.Box.X,
			YMin:       o.Box.Y,
			XMax:       o.Box.X2(),
			YMax:       o.Box.Y2(),
			Confidence: o.Confidence,
		})
	}
	flag := AlertFlagFalse
	if alert {
		flag = AlertFlagTrue
	}

	// None of these can fail, because the types are all plain values
	key, _ := json.Marshal(objectsKey)
	items, _ := json.Marshal(list)

	compact := bytes.Buffer{}
	compact.WriteString(`{"` + AlertFlagKey + `":` + strconv.Itoa(flag) + `,`)
	compact.Write(key)
	compact.WriteByte(':')
	compact.Write(items)
	compact.WriteByte('}')

	out := bytes.Buffer{}
	out.Grow(compact.Len() * 2)
	if err := json.Indent(&out, compact.Bytes(), "", "\t"); err != nil {
		panic(err)
	}
	return out.Bytes()
}
