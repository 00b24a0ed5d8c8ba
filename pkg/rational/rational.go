// Package rational implements a 64-bit rational number with GCD
// reduction, used throughout this module to scale timestamps without
// the precision loss a floating-point frame-rate conversion would
// introduce.
//
// Grounded on _examples/original_source/aviclasses/Fraction.h/.cpp
// (VirtualDub's Fraction class, scale64/round64 family) but reimplemented
// idiomatically: instead of the original's manual 128-bit hi/lo
// accumulator, Go's math/big.Int handles the intermediate widening for
// Scale, which is the only place wide cross-multiplication is needed.
package rational

import "math/big"

// Rational is Num/Den in lowest terms; Den is always > 0.
type Rational struct {
	Num int64
	Den int64
}

// New builds a reduced Rational.
func New(num, den int64) Rational {
	return Rational{Num: num, Den: den}.Reduce()
}

// Reduce divides Num and Den by their GCD and normalizes the sign so Den
// is positive.
func (r Rational) Reduce() Rational {
	if r.Den == 0 {
		return Rational{Num: 0, Den: 1}
	}
	if r.Den < 0 {
		r.Num, r.Den = -r.Num, -r.Den
	}
	if r.Num == 0 {
		return Rational{Num: 0, Den: 1}
	}
	g := gcd(abs64(r.Num), r.Den)
	if g > 1 {
		r.Num /= g
		r.Den /= g
	}
	return r
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Float64 converts the rational to a float64.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Mul returns r * other, reduced.
func (r Rational) Mul(other Rational) Rational {
	return New(r.Num*other.Num, r.Den*other.Den)
}

// Inv returns 1/r.
func (r Rational) Inv() Rational {
	return New(r.Den, r.Num)
}

// Scale computes b * r.Num / r.Den with 128-bit intermediate precision,
// rounding toward zero — the Go analogue of Fraction::scale64t.
func (r Rational) Scale(b int64) int64 {
	if r.Den == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(b), big.NewInt(r.Num))
	num.Quo(num, big.NewInt(r.Den))
	return num.Int64()
}

// ScaleRound computes b * r.Num / r.Den, rounding to nearest.
func (r Rational) ScaleRound(b int64) int64 {
	if r.Den == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(b), big.NewInt(r.Num))
	den := big.NewInt(r.Den)
	half := new(big.Int).Rsh(den, 1)
	if num.Sign() < 0 {
		num.Sub(num, half)
	} else {
		num.Add(num, half)
	}
	num.Quo(num, den)
	return num.Int64()
}

// IsZero reports whether the rational is 0/den.
func (r Rational) IsZero() bool { return r.Num == 0 }
