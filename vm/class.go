package vm

// ---------------------------------------------------------------------------
// Class: method lookup and construction
// ---------------------------------------------------------------------------

// IsSubclassOf returns true if c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass() {
		if current == other {
			return true
		}
	}
	return false
}

// Superclass returns the parent class, or nil for Object.
func (c *Class) Superclass() *Class { return c.SuperClass }

// LookupMethod searches c and then its superclasses for a method named
// name.
func (c *Class) LookupMethod(name string) *Closure {
	for current := c; current != nil; current = current.SuperClass {
		if m := current.ownMethod(name); m != nil {
			return m
		}
	}
	return nil
}

// ownMethod returns the method defined directly on c, ignoring parents.
func (c *Class) ownMethod(name string) *Closure {
	for _, m := range c.Methods.Data {
		if !m.Fn.IsMethod {
			fatalf("class %s holds a non method %s", c.Name.Data, m.Fn.Name)
		}
		if m.Fn.Name == name {
			return m
		}
	}
	return nil
}

// AllMethodNames returns the method names of c followed by those of its
// superclasses.
func (c *Class) AllMethodNames() []string {
	var names []string
	for current := c; current != nil; current = current.SuperClass {
		for _, m := range current.Methods.Data {
			names = append(names, m.Fn.Name)
		}
	}
	return names
}

// getClass returns the class of v: a builtin class for builtin types and
// the instance's class otherwise.
func (vm *VM) getClass(v Value) *Class {
	t := v.Type()
	if t < TypeInstance {
		return vm.builtinClasses[t]
	}
	return v.obj.(*Instance).Class
}

// hasMethod looks name up on the class of self.
func (vm *VM) hasMethod(self Value, name string) *Closure {
	return vm.getClass(self).LookupMethod(name)
}

// getMethod returns the method name of self. When there is no such method
// the attribute of the same name is returned and isMethod is false.
func (vm *VM) getMethod(self Value, name *String) (v Value, isMethod bool) {
	if m := vm.hasMethod(self, name.Data); m != nil {
		return ObjectValue(m), true
	}
	return vm.getAttrib(self, name), false
}

// getSuperMethod returns the method name of the parent class of self.
func (vm *VM) getSuperMethod(self Value, name *String) *Closure {
	super := vm.getClass(self).SuperClass
	if super == nil {
		vm.setErrorf("'%s' object has no parent class.", self.TypeName())
		return nil
	}
	m := super.LookupMethod(name.Data)
	if m == nil {
		vm.setErrorf("'%s' class has no method named '%s'.", super.Name.Data, name.Data)
	}
	return m
}

// preConstructSelf returns the self a constructor of cls runs with. User
// classes get a fresh instance; builtin constructors write their result
// over the null returned here.
func (vm *VM) preConstructSelf(cls *Class) Value {
	switch cls.ClassOf {
	case TypeObject, TypeModule, TypeClosure, TypeMethodBind, TypeClass:
		vm.setErrorf("Class '%s' cannot be instanciated.", cls.ClassOf)
		return Null

	case TypeNull, TypeBool, TypeNumber, TypeString, TypeList, TypeMap,
		TypeRange, TypeFiber:
		return Null

	case TypeInstance:
		return ObjectValue(vm.newInstance(cls))
	}
	fatalf("unknown class type %d", cls.ClassOf)
	return Null
}

// classCtor returns the constructor of cls, searching parents when cls has
// none of its own.
func classCtor(cls *Class) *Closure {
	for c := cls; c != nil; c = c.SuperClass {
		if c.Ctor != nil {
			return c.Ctor
		}
	}
	return nil
}

// isType reports whether inst is an instance of type, walking the class
// chain of inst.
func (vm *VM) isType(inst, typ Value) bool {
	cls := typ.AsClass()
	if cls == nil {
		vm.setError("Right operand must be a class.")
		return false
	}
	return vm.getClass(inst).IsSubclassOf(cls)
}

// bindMethod adds method to cls, making it the constructor when it is
// named _init.
func (vm *VM) bindMethod(cls *Class, method *Closure) {
	method.Fn.IsMethod = true
	if method.Fn.Name == CtorName {
		cls.Ctor = method
	}
	cls.Methods.Write(vm, method)
}
