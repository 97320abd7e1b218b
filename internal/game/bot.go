package game

import "math"

const (
	// SearchDepth is the fixed minimax horizon in plies.
	SearchDepth = 6
	// decidedScore marks an evaluation as a settled position; search stops there.
	decidedScore = 1000
	centerBonus  = 3
)

// Bot plays seat Seat: it takes a winning move, then blocks, then searches.
type Bot struct {
	Seat  Seat
	Depth int
}

func NewBot(seat Seat) *Bot {
	return &Bot{Seat: seat, Depth: SearchDepth}
}

// ChooseMove returns the bot's column for board, or -1 on a full board.
// The immediate-tactic check always runs before the search and its answer
// is final.
func (b *Bot) ChooseMove(board Board) int {
	if board.IsFull() {
		return -1
	}
	if col, ok := b.ImmediateMove(board); ok {
		return col
	}
	col, _ := b.Minimax(board, b.Depth)
	if col < 0 {
		// root already past the saturation threshold; take the default
		// first open column.
		col = board.OpenColumns()[0]
	}
	return col
}

// ImmediateMove finds the leftmost winning column for the bot, or failing
// that the leftmost column where the opponent would win next move.
func (b *Bot) ImmediateMove(board Board) (int, bool) {
	if col, ok := findImmediate(board, b.Seat); ok {
		return col, true
	}
	return findImmediate(board, b.Seat.Opponent())
}

func findImmediate(board Board, seat Seat) (int, bool) {
	for col := 0; col < Columns; col++ {
		next, row, err := board.Drop(col, seat)
		if err != nil {
			continue
		}
		if DetectRun(next, row, col, seat) {
			return col, true
		}
	}
	return -1, false
}

// Minimax runs the depth-bounded alpha-beta search from the bot's side and
// returns the chosen column with its score.
func (b *Bot) Minimax(board Board, depth int) (int, int) {
	return b.minimax(board, depth, math.MinInt, math.MaxInt, true)
}

func (b *Bot) minimax(board Board, depth, alpha, beta int, maximizing bool) (int, int) {
	score := Evaluate(board, b.Seat)
	if depth == 0 || abs(score) >= decidedScore || board.IsFull() {
		return -1, score
	}

	cols := board.OpenColumns()
	best := cols[0]
	if maximizing {
		bestScore := math.MinInt
		for _, col := range cols {
			next, _, _ := board.Drop(col, b.Seat)
			_, s := b.minimax(next, depth-1, alpha, beta, false)
			if s > bestScore {
				bestScore, best = s, col
			}
			alpha = max(alpha, s)
			if beta <= alpha {
				break
			}
		}
		return best, bestScore
	}

	bestScore := math.MaxInt
	opp := b.Seat.Opponent()
	for _, col := range cols {
		next, _, _ := board.Drop(col, opp)
		_, s := b.minimax(next, depth-1, alpha, beta, true)
		if s < bestScore {
			bestScore, best = s, col
		}
		beta = min(beta, s)
		if beta <= alpha {
			break
		}
	}
	return best, bestScore
}

// Evaluate scores board from seat's point of view: the window sum for seat
// minus the window sum for the opponent, plus the center column balance.
func Evaluate(board Board, seat Seat) int {
	opp := seat.Opponent()
	score := 0
	for row := 0; row < Rows; row++ {
		switch board[row][CenterColumn] {
		case seat:
			score += centerBonus
		case opp:
			score -= centerBonus
		}
	}
	return score + windowSum(board, seat) - windowSum(board, opp)
}

func windowSum(board Board, seat Seat) int {
	sum := 0
	var w [4]Seat
	// horizontal
	for r := 0; r < Rows; r++ {
		for c := 0; c <= Columns-4; c++ {
			w = [4]Seat{board[r][c], board[r][c+1], board[r][c+2], board[r][c+3]}
			sum += scoreWindow(w, seat)
		}
	}
	// vertical
	for c := 0; c < Columns; c++ {
		for r := 0; r <= Rows-4; r++ {
			w = [4]Seat{board[r][c], board[r+1][c], board[r+2][c], board[r+3][c]}
			sum += scoreWindow(w, seat)
		}
	}
	// diagonals
	for r := 0; r <= Rows-4; r++ {
		for c := 0; c <= Columns-4; c++ {
			w = [4]Seat{board[r][c], board[r+1][c+1], board[r+2][c+2], board[r+3][c+3]}
			sum += scoreWindow(w, seat)
		}
		for c := 3; c < Columns; c++ {
			w = [4]Seat{board[r][c], board[r+1][c-1], board[r+2][c-2], board[r+3][c-3]}
			sum += scoreWindow(w, seat)
		}
	}
	return sum
}

func scoreWindow(w [4]Seat, seat Seat) int {
	var own, theirs, empty int
	for _, cell := range w {
		switch cell {
		case seat:
			own++
		case Empty:
			empty++
		default:
			theirs++
		}
	}

	score := 0
	switch {
	case own == 4:
		score += 1000
	case own == 3 && empty == 1:
		score += 100
	case own == 2 && empty == 2:
		score += 10
	}
	if theirs == 3 && empty == 1 {
		score -= 80
	}
	return score
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
