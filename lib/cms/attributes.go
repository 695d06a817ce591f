/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cms

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"reflect"
)

// ErrNoAttribute is returned when the requested attribute OID is absent.
type ErrNoAttribute asn1.ObjectIdentifier

func (e ErrNoAttribute) Error() string {
	return fmt.Sprintf("attribute not found: %s", asn1.ObjectIdentifier(e))
}

// Add marshals obj and appends it as a new attribute.
func (l *AttributeList) Add(oid asn1.ObjectIdentifier, obj interface{}) error {
	value, err := asn1.Marshal(obj)
	if err != nil {
		return err
	}
	*l = append(*l, Attribute{
		Type: oid,
		Value: asn1.RawValue{
			Class:      asn1.ClassUniversal,
			Tag:        asn1.TagSet,
			IsCompound: true,
			Bytes:      value,
		},
	})
	return nil
}

func (l AttributeList) Exists(oid asn1.ObjectIdentifier) bool {
	for _, attr := range l {
		if attr.Type.Equal(oid) {
			return true
		}
	}
	return false
}

// GetAll unmarshals every value of the named attribute into dest, which must
// be a pointer to a slice.
func (l AttributeList) GetAll(oid asn1.ObjectIdentifier, dest interface{}) error {
	destv := reflect.ValueOf(dest)
	if destv.Kind() != reflect.Ptr || destv.Elem().Kind() != reflect.Slice {
		return errors.New("dest must be a pointer to a slice")
	}
	slicev := destv.Elem()
	elemType := slicev.Type().Elem()
	found := false
	for _, attr := range l {
		if !attr.Type.Equal(oid) {
			continue
		}
		found = true
		rest := attr.Value.Bytes
		for len(rest) > 0 {
			elem := reflect.New(elemType)
			var err error
			rest, err = asn1.Unmarshal(rest, elem.Interface())
			if err != nil {
				return err
			}
			slicev = reflect.Append(slicev, elem.Elem())
		}
	}
	if !found {
		return ErrNoAttribute(oid)
	}
	destv.Elem().Set(slicev)
	return nil
}

// GetOne unmarshals the single value of the named attribute into dest,
// failing if the attribute holds zero or several values.
func (l AttributeList) GetOne(oid asn1.ObjectIdentifier, dest interface{}) error {
	var count int
	var value []byte
	for _, attr := range l {
		if !attr.Type.Equal(oid) {
			continue
		}
		rest := attr.Value.Bytes
		for len(rest) > 0 {
			var raw asn1.RawValue
			var err error
			rest, err = asn1.Unmarshal(rest, &raw)
			if err != nil {
				return err
			}
			value = raw.FullBytes
			count++
		}
	}
	switch {
	case count == 0:
		return ErrNoAttribute(oid)
	case count > 1:
		return fmt.Errorf("expected one value for attribute %s but found %d", oid, count)
	}
	rest, err := asn1.Unmarshal(value, dest)
	if err != nil {
		return err
	} else if len(rest) != 0 {
		return fmt.Errorf("trailing bytes after value of attribute %s", oid)
	}
	return nil
}

// Bytes returns the DER encoding of the attributes as a SET OF, which is what
// authenticated-attribute signatures are computed over. Element order is
// preserved rather than DER-sorted so that parsed signatures verify against
// the bytes the signer actually produced.
func (l AttributeList) Bytes() ([]byte, error) {
	return marshalUnsortedSet(l)
}

func marshalUnsortedSet(l AttributeList) ([]byte, error) {
	// encoding/asn1 sorts SET OF elements when marshalling, so marshal as a
	// SEQUENCE and patch the tag
	encoded, err := asn1.Marshal([]Attribute(l))
	if err != nil {
		return nil, err
	}
	encoded[0] = asn1.TagSet | 0x20
	return encoded, nil
}
