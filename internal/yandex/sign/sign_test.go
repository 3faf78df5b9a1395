package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func djb2(s string) string {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) ^ uint32(s[i])
	}
	var buf [20]byte
	n := len(buf)
	if h == 0 {
		n--
		buf[n] = '0'
	}
	for h > 0 {
		n--
		buf[n] = byte('0' + h%10)
		h /= 10
	}
	return string(buf[n:])
}

func TestSign_Vectors(t *testing.T) {
	assert.Equal(t, djb2("a=1&b=2"), Sign(map[string]string{"a": "1", "b": "2"}))
	assert.Equal(t, "5381", Sign(map[string]string{}))
}

func TestSign_OrderIndependentOfMapIteration(t *testing.T) {
	params := map[string]string{"zeta": "9", "alpha": "1", "mid": "5"}
	first := Sign(params)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Sign(params))
	}
}

func TestSign_PureFunction(t *testing.T) {
	a := Sign(map[string]string{"businessId": "123", "page": "1", "ranking": "by_time"})
	b := Sign(map[string]string{"page": "1", "businessId": "123", "ranking": "by_time"})
	assert.Equal(t, a, b)
}

func TestSign_DifferentInputsDiffer(t *testing.T) {
	a := Sign(map[string]string{"page": "1"})
	b := Sign(map[string]string{"page": "2"})
	assert.NotEqual(t, a, b)
}
