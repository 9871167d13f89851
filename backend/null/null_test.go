package null

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
)

func TestRegisteredWithRegistry(t *testing.T) {
	p, err := rhi.NewContextProvider("null")
	require.NoError(t, err)
	require.NotNil(t, p.DefaultContext())
}

func TestUpdateBufferAppliesToHostMemory(t *testing.T) {
	p := NewProvider()
	ctx := p.DefaultContext()

	buf := NewBuffer(32)
	ctx.UpdateBuffer(buf, 4, []byte{1, 2, 3})
	require.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3}, buf.HostBytes()[:7])
}

func TestUpdateForeignBufferPanics(t *testing.T) {
	p := NewProvider()
	ctx := p.DefaultContext()
	require.Panics(t, func() { ctx.UpdateBuffer(foreignBuffer{}, 0, nil) })
}

type foreignBuffer struct{}

func (foreignBuffer) Len() int { return 0 }

func TestContainerSubmitBeforeFinishPanics(t *testing.T) {
	p := NewProvider()
	c := p.GetContextContainer(0, 1)
	require.Panics(t, func() { c.Submit(0, 1) })
}

func TestContainerSubmitOrderRecorded(t *testing.T) {
	p := NewProvider()
	total := 3
	cs := make([]rhi.ContextContainer, total)
	for i := range cs {
		cs[i] = p.GetContextContainer(i, total)
		cs[i].GetContext().SetDeviceMask(rhi.DeviceMaskDefault)
		cs[i].FinishContext()
	}
	for i := total - 1; i >= 0; i-- {
		cs[i].Submit(i, total)
	}
	require.Equal(t, []int{2, 1, 0}, p.SubmitOrder())
	require.Equal(t, total, p.FinishedContainers())
}

func TestSetParallelDisablesContainers(t *testing.T) {
	p := NewProvider()
	p.SetParallel(false)
	require.Nil(t, p.GetContextContainer(0, 1))
}
