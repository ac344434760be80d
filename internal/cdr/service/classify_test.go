package service

import (
	"testing"

	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		number string
		want   cdrdomain.CallType
	}{
		{"home country mobile", "+919812345678", cdrdomain.CallTypeMobile},
		{"foreign number", "+12025551234", cdrdomain.CallTypeISD},
		{"national trunk prefix", "0401234567", cdrdomain.CallTypeSTD},
		{"short local number", "1234567", cdrdomain.CallTypeLocal},
		{"bare mobile without country code", "9812345678", cdrdomain.CallTypeMobile},
		{"empty number", "", cdrdomain.CallTypeLocal},
		{"home prefix landline", "+911234567", cdrdomain.CallTypeLocal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.number, "91"))
		})
	}
}

func TestClassifyUnknownHomeCountry(t *testing.T) {
	// Without a home country every "+" number is international.
	assert.Equal(t, cdrdomain.CallTypeISD, Classify("+919812345678", ""))
}
