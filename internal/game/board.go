package game

const (
	Columns = 7
	Rows    = 6
	// CenterColumn earns a positional bonus in the evaluator.
	CenterColumn = 3
)

// Seat identifies a turn slot. The zero value doubles as the empty cell.
type Seat int

const (
	Empty Seat = iota
	Seat1
	Seat2
)

// Opponent returns the other seat. Empty has no opponent.
func (s Seat) Opponent() Seat {
	switch s {
	case Seat1:
		return Seat2
	case Seat2:
		return Seat1
	}
	return Empty
}

// Board is a 6x7 grid, row 0 at the top. It is a value type: every
// placement produces a new board, so copies handed to the search never
// alias the live session board.
type Board [Rows][Columns]Seat

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// Drop places seat's disc in the lowest empty row of column.
func (b Board) Drop(col int, seat Seat) (Board, int, error) {
	if col < 0 || col >= Columns {
		return b, -1, ErrInvalidColumn
	}
	for row := Rows - 1; row >= 0; row-- {
		if b[row][col] == Empty {
			b[row][col] = seat
			return b, row, nil
		}
	}
	return b, -1, ErrColumnFull
}

func (b Board) CanDrop(col int) bool {
	return col >= 0 && col < Columns && b[0][col] == Empty
}

// OpenColumns lists playable columns left to right.
func (b Board) OpenColumns() []int {
	cols := make([]int, 0, Columns)
	for col := 0; col < Columns; col++ {
		if b[0][col] == Empty {
			cols = append(cols, col)
		}
	}
	return cols
}

func (b Board) IsFull() bool {
	for col := 0; col < Columns; col++ {
		if b[0][col] == Empty {
			return false
		}
	}
	return true
}

// Count returns the number of occupied cells.
func (b Board) Count() int {
	n := 0
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			if b[r][c] != Empty {
				n++
			}
		}
	}
	return n
}

// DetectRun reports whether the disc at (row, col) is part of four or more
// contiguous seat cells along any axis.
func DetectRun(b Board, row, col int, seat Seat) bool {
	for _, d := range directions {
		if 1+runLength(b, row, col, seat, d[0], d[1])+runLength(b, row, col, seat, -d[0], -d[1]) >= 4 {
			return true
		}
	}
	return false
}

// runLength counts seat cells from (row, col) exclusive, stepping by (dr, dc)
// until the edge or the first non-matching cell.
func runLength(b Board, row, col int, seat Seat, dr, dc int) int {
	n := 0
	for r, c := row+dr, col+dc; r >= 0 && r < Rows && c >= 0 && c < Columns; r, c = r+dr, c+dc {
		if b[r][c] != seat {
			break
		}
		n++
	}
	return n
}
