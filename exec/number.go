package exec

import (
	"strings"

	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/pattern"
	"github.com/sigmundgranaas/petty/tree"
)

// countCounters computes the counter tuple for an xsl:number instruction
// (spec §4.J "Number"): single counts preceding siblings of the nearest
// ancestor-or-self matching count back to a from reset; multiple
// produces one counter per matching ancestor level; any counts every
// preceding matching node in document order, resetting after a from
// match.
func countCounters(ctx *execContext, level instr.NumberLevel, node tree.Node, count, from *pattern.Pattern) []int {
	matchesCount := func(n tree.Node) bool {
		if count != nil {
			return count.Matches(ctx.xp, n)
		}
		return sameShape(n, node)
	}
	matchesFrom := func(n tree.Node) bool {
		return from != nil && from.Matches(ctx.xp, n)
	}

	switch level {
	case instr.LevelAny:
		var all []tree.Node
		walkDocOrder(node.Document(), &all)
		n := 0
		for _, cand := range all {
			if matchesFrom(cand) {
				n = 0
				continue
			}
			if cand.Identity() == node.Identity() {
				if matchesCount(cand) {
					n++
				}
				break
			}
			if matchesCount(cand) {
				n++
			}
		}
		return []int{n}
	case instr.LevelMultiple:
		var counters []int
		for cur := node; ; {
			if matchesCount(cur) {
				counters = append([]int{siblingCount(cur, matchesCount)}, counters...)
			}
			if matchesFrom(cur) {
				break
			}
			parent, ok := cur.Parent()
			if !ok || parent.Kind() == tree.Root {
				break
			}
			cur = parent
		}
		if len(counters) == 0 {
			return []int{0}
		}
		return counters
	default: // levelSingle
		for cur := node; ; {
			if matchesFrom(cur) {
				return []int{0}
			}
			if matchesCount(cur) {
				return []int{siblingCount(cur, matchesCount)}
			}
			parent, ok := cur.Parent()
			if !ok || parent.Kind() == tree.Root {
				return []int{0}
			}
			cur = parent
		}
	}
}

func sameShape(n, like tree.Node) bool {
	if n.Kind() != like.Kind() {
		return false
	}
	ln, lok := like.Name()
	nn, nok := n.Name()
	return lok == nok && (!lok || ln.Equal(nn))
}

// siblingCount returns 1-based position of target among its parent's
// children that satisfy match, counting only up to and including
// target.
func siblingCount(target tree.Node, match func(tree.Node) bool) int {
	parent, ok := target.Parent()
	if !ok {
		return 1
	}
	n := 0
	for _, sib := range parent.Children() {
		if match(sib) {
			n++
		}
		if sib.Identity() == target.Identity() {
			break
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

func walkDocOrder(n tree.Node, out *[]tree.Node) {
	*out = append(*out, n)
	for _, c := range n.Children() {
		walkDocOrder(c, out)
	}
}

// formatCounters renders the counter tuple through a format-integer
// style picture (spec §4.J, §4.D "format-integer"): groups separated by
// any run of non-alphanumeric separator characters, the last group's
// token reused for any counters beyond the declared group count.
func formatCounters(counters []int, format string) string {
	if format == "" {
		format = "1"
	}
	tokens, seps := splitPicture(format)
	if len(tokens) == 0 {
		tokens = []string{"1"}
	}
	var sb strings.Builder
	for i, c := range counters {
		if i > 0 {
			if i-1 < len(seps) {
				sb.WriteString(seps[i-1])
			} else if len(seps) > 0 {
				sb.WriteString(seps[len(seps)-1])
			} else {
				sb.WriteString(".")
			}
		}
		tok := tokens[len(tokens)-1]
		if i < len(tokens) {
			tok = tokens[i]
		}
		sb.WriteString(formatOne(c, tok))
	}
	return sb.String()
}

func splitPicture(format string) (tokens, seps []string) {
	var cur strings.Builder
	alnum := func(r byte) bool {
		return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
	}
	i := 0
	for i < len(format) {
		if alnum(format[i]) {
			cur.Reset()
			for i < len(format) && alnum(format[i]) {
				cur.WriteByte(format[i])
				i++
			}
			tokens = append(tokens, cur.String())
		} else {
			cur.Reset()
			for i < len(format) && !alnum(format[i]) {
				cur.WriteByte(format[i])
				i++
			}
			seps = append(seps, cur.String())
		}
	}
	return tokens, seps
}

func formatOne(n int, token string) string {
	switch {
	case token == "":
		return itoaPad(n, 0)
	case token == "A":
		return alphaNumeral(n, true)
	case token == "a":
		return alphaNumeral(n, false)
	case token == "I":
		return romanNumeral(n, true)
	case token == "i":
		return romanNumeral(n, false)
	case strings.Trim(token, "0123456789") == "":
		return itoaPad(n, len(token))
	default:
		return itoaPad(n, 0)
	}
}

func itoaPad(n, width int) string {
	s := itoaBase10(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func itoaBase10(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// alphaNumeral is bijective base-26 (spec §4.D format-integer "a/A"): 1
// -> a, 26 -> z, 27 -> aa.
func alphaNumeral(n int, upper bool) string {
	if n <= 0 {
		return itoaBase10(n)
	}
	alphabet := "abcdefghijklmnopqrstuvwxyz"
	if upper {
		alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	}
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{alphabet[n%26]}, out...)
		n /= 26
	}
	return string(out)
}

// romanNumeral implements 1..3999 (spec §4.D format-integer "i/I");
// values outside that range fall back to decimal.
func romanNumeral(n int, upper bool) string {
	if n <= 0 || n > 3999 {
		return itoaBase10(n)
	}
	vals := []int{1000, 900, 500, 400, 100, 90, 50, 40, 10, 9, 5, 4, 1}
	syms := []string{"M", "CM", "D", "CD", "C", "XC", "L", "XL", "X", "IX", "V", "IV", "I"}
	var sb strings.Builder
	for i, v := range vals {
		for n >= v {
			sb.WriteString(syms[i])
			n -= v
		}
	}
	s := sb.String()
	if !upper {
		s = strings.ToLower(s)
	}
	return s
}
