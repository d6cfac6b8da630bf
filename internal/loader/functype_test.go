package loader

import "testing"

func TestTypeTableAddSignatureAssignsSequentialIDs(t *testing.T) {
	tt := NewTypeTable()
	ret := I32
	id0 := tt.AddSignature(Signature{Params: []ValType{I32, I32}, Ret: &ret, HasRet: true})
	id1 := tt.AddSignature(Signature{Params: []ValType{I64}})
	if id0 != 0 || id1 != 1 {
		t.Fatalf("got ids %d, %d, want 0, 1", id0, id1)
	}
}

func TestReturnTypeOfResolvesBoundNameWithReturnValue(t *testing.T) {
	tt := NewTypeTable()
	ret := F64
	id := tt.AddSignature(Signature{Ret: &ret, HasRet: true})
	tt.BindName("compute", id)
	got, ok := tt.ReturnTypeOf("compute")
	if !ok || got != F64 {
		t.Fatalf("got (%v, %v), want (F64, true)", got, ok)
	}
}

func TestReturnTypeOfReportsFalseForVoidSignature(t *testing.T) {
	tt := NewTypeTable()
	id := tt.AddSignature(Signature{Params: []ValType{I32}})
	tt.BindName("log", id)
	if _, ok := tt.ReturnTypeOf("log"); ok {
		t.Fatal("expected a void-returning signature to report no return type")
	}
}

func TestReturnTypeOfReportsFalseForUnknownName(t *testing.T) {
	tt := NewTypeTable()
	if _, ok := tt.ReturnTypeOf("nonexistent"); ok {
		t.Fatal("expected an unbound function name to report no return type")
	}
}
