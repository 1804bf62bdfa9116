package sigma

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxLexTokens bounds the number of tokens a single condition expression may
// produce, so a pathological or adversarial condition string cannot spin the
// lexer goroutine forever
const maxLexTokens = 10000

type lexer struct {
	input    string // the string being parsed
	start    int    // the position we started scanning
	position int    // the current position of our scan
	width    int    // width of the last rune, which can be double byte
	emitted  int

	items chan Item // channel used to communicate between lexer and parser
}

// lex creates a lexer and starts scanning the provided input in its own
// goroutine, streaming tokens back over the returned lexer's items channel
func lex(input string) *lexer {
	l := &lexer{
		input: input,
		items: make(chan Item),
	}
	go l.scan()
	return l
}

// ignore resets the start position to the current scan position, dropping
// whatever has been accumulated so far
func (l *lexer) ignore() {
	l.start = l.position
}

// next advances the lexer state to the next rune
func (l *lexer) next() (r rune) {
	if l.position >= len(l.input) {
		l.width = 0
		return eof
	}
	r, l.width = utf8.DecodeRuneInString(l.todo())
	l.position += l.width
	return r
}

// backup steps back one rune, useful when a state function has read one
// rune too many to detect a boundary
func (l *lexer) backup() {
	l.position = l.position - l.width
}

// scan steps through the input executing state functions until nil is
// returned, signalling the end of the lexing process
func (l *lexer) scan() {
	for fn := lexCondition; fn != nil; {
		fn = fn(l)
	}
	close(l.items)
}

func (l *lexer) unsuppf(format string, args ...interface{}) stateFn {
	msg := fmt.Sprintf(format, args...)
	l.items <- Item{T: TokUnsupp, Val: msg}
	return nil
}

func (l *lexer) errorf(format string, args ...interface{}) stateFn {
	msg := fmt.Sprintf(format, args...)
	l.items <- Item{T: TokErr, Val: msg}
	return nil
}

// emit sends an item over the channel so the parser can collect and manage
// each segment
func (l *lexer) emit(k Token) stateFn {
	l.emitted++
	if l.emitted > maxLexTokens {
		l.errorf("condition expression exceeded %d tokens", maxLexTokens)
		// a non-nil state makes the caller return it; it ends the scan
		return func(*lexer) stateFn { return nil }
	}
	i := Item{T: k, Val: l.input[l.start:l.position]}
	l.items <- i
	l.ignore()
	return nil
}

func (l lexer) collected() string { return l.input[l.start:l.position] }
func (l lexer) todo() string      { return l.input[l.position:] }

// stateFn is a function specific to a given lexer state
type stateFn func(*lexer) stateFn

// lexCondition scans what is expected to be a plain token or a separator
func lexCondition(l *lexer) stateFn {
	for {
		if strings.HasPrefix(l.todo(), TokStOne.Literal()) {
			return lexOneOf
		}
		if strings.HasPrefix(l.todo(), TokStAll.Literal()) {
			return lexAllOf
		}
		switch r := l.next(); {
		case r == eof:
			return lexEOF
		case r == TokSepRpar.Rune():
			return lexRparWithTokens
		case r == TokSepLpar.Rune():
			return lexLpar
		case r == TokSepPipe.Rune():
			return lexPipe
		case unicode.IsSpace(r):
			return lexAccumulateBeforeWhitespace
		}
	}
}

func lexOneOf(l *lexer) stateFn {
	l.position += len(TokStOne.Literal())
	if fn := l.emit(TokStOne); fn != nil {
		return fn
	}
	return lexCondition
}

func lexAllOf(l *lexer) stateFn {
	l.position += len(TokStAll.Literal())
	if fn := l.emit(TokStAll); fn != nil {
		return fn
	}
	return lexCondition
}

func lexAggs(l *lexer) stateFn {
	return l.unsuppf("aggregation is not supported [%s]", l.input)
}

func lexEOF(l *lexer) stateFn {
	if l.position > l.start {
		if fn := l.emit(checkKeyWord(l.collected())); fn != nil {
			return fn
		}
	}
	l.emit(TokLitEof)
	return nil
}

func lexPipe(l *lexer) stateFn {
	if fn := l.emit(TokSepPipe); fn != nil {
		return fn
	}
	return lexAggs
}

func lexLpar(l *lexer) stateFn {
	if fn := l.emit(TokSepLpar); fn != nil {
		return fn
	}
	return lexCondition
}

func lexRparWithTokens(l *lexer) stateFn {
	if l.position > l.start {
		l.backup()
		if t := checkKeyWord(l.collected()); t != TokNil {
			if fn := l.emit(t); fn != nil {
				return fn
			}
		}
		for {
			switch r := l.next(); {
			case r == eof:
				return lexEOF
			case unicode.IsSpace(r):
				l.ignore()
			default:
				return lexRpar
			}
		}
	}
	return lexRpar
}

func lexRpar(l *lexer) stateFn {
	if fn := l.emit(TokSepRpar); fn != nil {
		return fn
	}
	return lexCondition
}

func lexAccumulateBeforeWhitespace(l *lexer) stateFn {
	l.backup()
	if l.position > l.start {
		if fn := l.emit(checkKeyWord(l.collected())); fn != nil {
			return fn
		}
	}
	return lexWhitespace
}

// lexWhitespace scans past consecutive whitespace runes
func lexWhitespace(l *lexer) stateFn {
	for {
		switch r := l.next(); {
		case r == eof:
			return lexEOF
		case !unicode.IsSpace(r):
			l.backup()
			return lexCondition
		default:
			l.ignore()
		}
	}
}

func checkKeyWord(in string) Token {
	if len(in) == 0 {
		return TokNil
	}
	switch strings.ToLower(in) {
	case TokKeywordAnd.Literal():
		return TokKeywordAnd
	case TokKeywordOr.Literal():
		return TokKeywordOr
	case TokKeywordNot.Literal():
		return TokKeywordNot
	case "sum", "min", "max", "count", "avg":
		return TokKeywordAgg
	case TokIdentifierAll.Literal():
		return TokIdentifierAll
	default:
		if strings.Contains(in, "*") {
			return TokIdentifierWithWildcard
		}
		return TokIdentifier
	}
}
