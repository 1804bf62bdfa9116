package sigma

import "github.com/gobwas/glob"

var eof = rune(0)

// Item is a lexical token along with its respective plaintext value
// Item is communicated between lexer and parser
type Item struct {
	T   Token
	Val string

	g *glob.Glob
}

// Glob lazily compiles Val as a glob pattern, used for wildcard identifiers
// like "selection*" in "1 of selection*" / "all of selection*"
func (i *Item) Glob() *glob.Glob {
	if i.g != nil {
		return i.g
	}
	g, err := glob.Compile(i.Val)
	if err != nil {
		return nil
	}
	i.g = &g
	return i.g
}

// Token is a lexical token extracted from the condition field
type Token int

const (
	TokErr Token = iota

	// Helpers for internal stuff
	TokUnsupp
	TokBegin
	TokNil

	// user-defined word
	TokIdentifier
	TokIdentifierWithWildcard
	TokIdentifierAll

	// Literals
	TokLitEof

	// Separators
	TokSepLpar
	TokSepRpar
	TokSepPipe

	// Operators
	TokOpEq
	TokOpGt
	TokOpGte
	TokOpLt
	TokOpLte

	// Keywords
	TokKeywordAnd
	TokKeywordOr
	TokKeywordNot
	TokKeywordAgg

	// Statements
	TokStOne
	TokStAll
)

// String documents human readable textual value of token
func (t Token) String() string {
	switch t {
	case TokIdentifier:
		return "IDENT"
	case TokIdentifierWithWildcard:
		return "WILDCARDIDENT"
	case TokIdentifierAll:
		return "THEM"
	case TokSepLpar:
		return "LPAR"
	case TokSepRpar:
		return "RPAR"
	case TokSepPipe:
		return "PIPE"
	case TokOpEq:
		return "EQ"
	case TokOpGt:
		return "GT"
	case TokOpGte:
		return "GTE"
	case TokOpLt:
		return "LT"
	case TokOpLte:
		return "LTE"
	case TokKeywordAnd:
		return "AND"
	case TokKeywordOr:
		return "OR"
	case TokKeywordNot:
		return "NOT"
	case TokStAll:
		return "ALL"
	case TokStOne:
		return "ONE"
	case TokKeywordAgg:
		return "AGG"
	case TokLitEof:
		return "EOF"
	case TokErr:
		return "ERR"
	case TokUnsupp:
		return "UNSUPPORTED"
	case TokBegin:
		return "BEGINNING"
	case TokNil:
		return "NIL"
	default:
		return "Unk"
	}
}

// Literal documents the plaintext value of a token as it appears in a rule
func (t Token) Literal() string {
	switch t {
	case TokIdentifier, TokIdentifierWithWildcard:
		return "keywords"
	case TokIdentifierAll:
		return "them"
	case TokSepLpar:
		return "("
	case TokSepRpar:
		return ")"
	case TokSepPipe:
		return "|"
	case TokOpEq:
		return "="
	case TokOpGt:
		return ">"
	case TokOpGte:
		return ">="
	case TokOpLt:
		return "<"
	case TokOpLte:
		return "<="
	case TokKeywordAnd:
		return "and"
	case TokKeywordOr:
		return "or"
	case TokKeywordNot:
		return "not"
	case TokStAll:
		return "all of"
	case TokStOne:
		return "1 of"
	case TokLitEof, TokNil:
		return ""
	default:
		return "Err"
	}
}

// Rune returns the UTF-8 numeric value of a separator symbol
func (t Token) Rune() rune {
	switch t {
	case TokSepLpar:
		return '('
	case TokSepRpar:
		return ')'
	case TokSepPipe:
		return '|'
	default:
		return eof
	}
}

// validTokenSequence checks if t2 may legally follow t1
// not a complete grammar, just a fast sanity check before the real parse
func validTokenSequence(t1, t2 Token) bool {
	switch t2 {
	case TokStAll, TokStOne:
		switch t1 {
		case TokBegin, TokSepLpar, TokKeywordAnd, TokKeywordOr, TokKeywordNot:
			return true
		}
	case TokIdentifierAll:
		switch t1 {
		case TokStAll, TokStOne:
			return true
		}
	case TokIdentifier, TokIdentifierWithWildcard:
		switch t1 {
		case TokSepLpar, TokBegin, TokKeywordAnd, TokKeywordOr, TokKeywordNot, TokStOne, TokStAll:
			return true
		}
	case TokKeywordAnd, TokKeywordOr:
		switch t1 {
		case TokIdentifier, TokIdentifierAll, TokIdentifierWithWildcard, TokSepRpar:
			return true
		}
	case TokKeywordNot:
		switch t1 {
		case TokKeywordAnd, TokKeywordOr, TokSepLpar, TokBegin:
			return true
		}
	case TokSepLpar:
		switch t1 {
		case TokKeywordAnd, TokKeywordOr, TokKeywordNot, TokBegin, TokSepLpar:
			return true
		}
	case TokSepRpar:
		switch t1 {
		case TokIdentifier, TokIdentifierAll, TokIdentifierWithWildcard, TokSepLpar, TokSepRpar:
			return true
		}
	case TokLitEof:
		switch t1 {
		case TokIdentifier, TokIdentifierAll, TokIdentifierWithWildcard, TokSepRpar:
			return true
		}
	case TokSepPipe:
		switch t1 {
		case TokIdentifier, TokIdentifierAll, TokIdentifierWithWildcard, TokSepRpar:
			return true
		}
	}
	return false
}
