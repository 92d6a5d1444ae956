// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
   Package affinity hands out keys that hash to a chosen member.

   A producer goroutine generates keys ahead of time and sorts them
   into one bounded queue per member that owns part of the keyspace,
   so that asking for "a key owned by M" only has to pop a queue.
   A key whose queue is full is dropped; the producer only waits
   while every queue is full.

   A registry is built for one topology and does not follow changes:
   a key taken from a queue may be owned by somebody else by the time
   it is used. Affinity is a performance hint, never a guarantee. The
   Manager rebuilds the registry whenever the view changes.
*/

package affinity
