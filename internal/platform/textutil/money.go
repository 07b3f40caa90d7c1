// Package textutil formats money and cleans customer supplied text.
package textutil

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var usPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatUSD renders cents as "$1,234.50". Negative amounts lead with the sign.
func FormatUSD(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + "$" + usPrinter.Sprintf("%d", cents/100) + fmt.Sprintf(".%02d", cents%100)
}
