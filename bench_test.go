package statetrie

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/stretchr/testify/require"
)

func benchmarkStdMapInsert(factor int, b *testing.B) {
	m := map[string][]byte{}
	for n := 0; n < factor*b.N; n++ {
		m[fmt.Sprint(n)] = ukey(uint(n))
	}
}

func BenchmarkStdMapInsert1(b *testing.B)   { benchmarkStdMapInsert(1, b) }
func BenchmarkStdMapInsert10(b *testing.B)  { benchmarkStdMapInsert(10, b) }
func BenchmarkStdMapInsert100(b *testing.B) { benchmarkStdMapInsert(100, b) }

func benchmarkLoad(factor int, b *testing.B) {
	pairs := make([]KeyValue, factor*b.N)
	for n := range pairs {
		pairs[n] = KeyValue{Key: ukey(uint(n)), Value: ukey(uint(n))}
	}
	b.ResetTimer()
	e := New(NewInMemoryStore(), Blake2b256)
	require.NoError(b, e.Load(context.Background(), pairs))
}

func BenchmarkLoad1(b *testing.B)   { benchmarkLoad(1, b) }
func BenchmarkLoad10(b *testing.B)  { benchmarkLoad(10, b) }
func BenchmarkLoad100(b *testing.B) { benchmarkLoad(100, b) }

// benchmarkCommit applies b.N blocks of factor changes each to a trie
// that starts with 10k entries.
func benchmarkCommit(factor int, b *testing.B) {
	ctx := context.Background()
	e := New(NewInMemoryStore(), Blake2b256, WithNodeCache(NewNodeCache(1<<14)))
	pairs := make([]KeyValue, 10_000)
	for n := range pairs {
		pairs[n] = KeyValue{Key: ukey(uint(n)), Value: ukey(uint(n))}
	}
	require.NoError(b, e.Load(ctx, pairs))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		changes := make([]Change, factor)
		for i := range changes {
			changes[i] = Put(ukey(uint((n*factor+i)%20_000)), ukey(uint(n)))
		}
		root, tx, err := e.Compute(ctx, changes, nil)
		require.NoError(b, err)
		require.NoError(b, e.Apply(ctx, root, tx))
	}
}

func BenchmarkCommit1(b *testing.B)   { benchmarkCommit(1, b) }
func BenchmarkCommit10(b *testing.B)  { benchmarkCommit(10, b) }
func BenchmarkCommit100(b *testing.B) { benchmarkCommit(100, b) }
func BenchmarkCommit1k(b *testing.B)  { benchmarkCommit(1_000, b) }

func benchmarkGet(factor int, b *testing.B) {
	ctx := context.Background()
	e := New(NewInMemoryStore(), Blake2b256, WithNodeCache(NewNodeCache(1<<14)))
	pairs := make([]KeyValue, factor*b.N)
	for n := range pairs {
		pairs[n] = KeyValue{Key: ukey(uint(n)), Value: ukey(uint(n))}
	}
	require.NoError(b, e.Load(ctx, pairs))
	b.ResetTimer()
	for n := range pairs {
		_, _, err := e.Get(ctx, pairs[n].Key)
		require.NoError(b, err)
	}
}

func BenchmarkGet1(b *testing.B)   { benchmarkGet(1, b) }
func BenchmarkGet10(b *testing.B)  { benchmarkGet(10, b) }
func BenchmarkGet100(b *testing.B) { benchmarkGet(100, b) }

func BenchmarkMapRoot1k(b *testing.B) {
	pairs := make([]KeyValue, 1_000)
	for n := range pairs {
		pairs[n] = KeyValue{Key: ukey(uint(n)), Value: ukey(uint(n))}
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		Blake2b256.MapRoot(pairs)
	}
}

func BenchmarkExerciser(b *testing.B) {
	parameters := gopter.DefaultTestParametersWithSeed(1593228262585360000)
	parameters.MaxSize = 2048
	parameters.MinSuccessfulTests = b.N
	properties := gopter.NewProperties(parameters)
	properties.Property("engine exerciser", commands.Prop(engineCommands))
	out := bytes.NewBuffer(nil)
	reporter := gopter.NewFormatedReporter(false, 98, out)
	require.True(b, properties.Run(reporter))
}
