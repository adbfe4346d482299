package dispatch

import (
	"bufio"
	"io"
)

// ReadLines pumps whole lines from r until EOF, then closes the
// channel. The dispatcher treats that close as fatal: with stdin gone,
// script selection is impossible.
func ReadLines(r io.Reader) <-chan string {
	ch := make(chan string, 4)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
