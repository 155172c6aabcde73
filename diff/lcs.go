package diff

// lcs returns a longest common subsequence of two name sequences. Aligning
// ordered property lists on it separates genuine moves from the shifts that
// adds and removes cause: names on the backbone kept their relative order,
// names off it moved.
func lcs(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	// Standard DP table; inputs are property lists, small by nature.
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] >= table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}

	out := make([]string, table[len(a)][len(b)])
	for i, j, k := len(a), len(b), len(out)-1; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			out[k] = a[i-1]
			i--
			j--
			k--
		case table[i-1][j] >= table[i][j-1]:
			i--
		default:
			j--
		}
	}
	return out
}

// sameOrder reports whether two sequences over the same name set kept their
// relative order: the backbone covers everything exactly when nothing moved.
func sameOrder(a, b []string) bool {
	return len(lcs(a, b)) == len(a) && len(a) == len(b)
}
