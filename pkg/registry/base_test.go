package registry

import (
	"errors"
	"testing"
)

type item struct {
	id   string
	kind string
}

func (i item) ID() string   { return i.id }
func (i item) Type() string { return i.kind }

func TestBaseRegistryKeepsOrder(t *testing.T) {
	r := NewBaseRegistry[item]()
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Register(item{id: id, kind: "x"}); err != nil {
			t.Fatalf("注册失败: %v", err)
		}
	}

	ids := r.IDs()
	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("期望顺序为 %v，实际为 %v", want, ids)
		}
	}

	r.Remove("a")
	if got := r.IDs(); len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Errorf("移除后期望顺序为 [c b]，实际为 %v", got)
	}
	if r.Len() != 2 {
		t.Errorf("期望数量为 2，实际为 %d", r.Len())
	}
}

func TestBaseRegistryDuplicate(t *testing.T) {
	r := NewBaseRegistry[item]()
	_ = r.Register(item{id: "a"})

	err := r.Register(item{id: "a"})
	var dup *DuplicateError
	if !errors.As(err, &dup) || dup.ID != "a" {
		t.Errorf("期望返回重复注册错误，实际为 %v", err)
	}
}

func TestBaseRegistryUpdateAndType(t *testing.T) {
	r := NewBaseRegistry[item]()
	_ = r.Register(item{id: "a", kind: "x"})
	_ = r.Register(item{id: "b", kind: "y"})

	if r.Update(item{id: "missing"}) {
		t.Error("期望更新不存在的项目返回false")
	}
	if !r.Update(item{id: "a", kind: "y"}) {
		t.Error("期望更新已存在的项目返回true")
	}
	if got := r.GetByType("y"); len(got) != 2 || got[0].id != "a" {
		t.Errorf("期望按注册顺序返回两个y类型项目，实际为 %v", got)
	}

	r.Clear()
	if r.Len() != 0 || r.Contains("a") {
		t.Error("期望清空后注册表为空")
	}
}

func TestFactoryRegistry(t *testing.T) {
	f := NewFactoryRegistry[string, item]()
	f.Register("echo", func(cfg string) (item, error) { return item{id: cfg, kind: "echo"}, nil })

	got, err := f.Create("echo", "hello")
	if err != nil || got.id != "hello" {
		t.Errorf("期望创建成功，实际为 %v, %v", got, err)
	}
	if _, err := f.Create("missing", ""); err == nil {
		t.Error("期望未知类型返回错误")
	}
	if !f.Has("echo") || len(f.Kinds()) != 1 {
		t.Error("期望类型列表仅包含 echo")
	}
}
