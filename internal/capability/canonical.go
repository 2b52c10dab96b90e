package capability

import (
	"strings"
	"unicode"
)

// translit maps lowercase Cyrillic letters to Latin. Letters without a
// single-letter equivalent map to digraphs; hard and soft signs are dropped.
var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "e", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya",
}

// Canonicalize converts a local capability name into the identifier form the
// remote platform uses for function names:
// 1. Lowercase
// 2. Transliterate Cyrillic to Latin
// 3. Replace anything outside [a-z0-9_] with "_"
// 4. Collapse runs of "_"
//
// The output alphabet is a subset of the accepted input alphabet, so
// Canonicalize is idempotent.
func Canonicalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := false
	write := func(s string) {
		for _, r := range s {
			if r == '_' {
				if lastUnderscore {
					continue
				}
				lastUnderscore = true
			} else {
				lastUnderscore = false
			}
			b.WriteRune(r)
		}
	}

	for _, r := range name {
		r = unicode.ToLower(r)
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			write(string(r))
		default:
			if latin, ok := translit[r]; ok {
				write(latin)
				continue
			}
			write("_")
		}
	}

	return b.String()
}
