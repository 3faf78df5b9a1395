package captcha

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// solverResponse models the rucaptcha in.php/res.php JSON reply shape:
// {"status":1,"request":"<id-or-token>"} on success,
// {"status":0,"request":"ERROR_CODE"} on failure or not-yet-ready.
type solverResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func parseSolverResponse(body []byte) (solverResponse, error) {
	var r solverResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return solverResponse{}, err
	}
	return r, nil
}
