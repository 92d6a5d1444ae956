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
   Package dispatcher runs commands on members of the cluster.

   A Dispatcher is bound to an identifier and a context value. Sending
   a command to a member executes it on that member against the
   context of the member's own dispatcher with the same identifier, so
   every participating member creates its dispatcher with the same
   identifier and its own local context.

   Results come back as Futures. Two error classes can resolve a
   Future: a DeliveryError means the command could not be run on the
   member (it was not in the view, it left, it could not be reached,
   or it has no dispatcher for the identifier), and a CommandError
   means the command ran and failed. Callers that want to retry on a
   different set of members look for the former with
   IsDeliveryError.

   The Registry shares dispatchers: acquiring the same identifier
   with an equal context returns the same dispatcher, and the
   underlying dispatcher is closed when the last user releases it.

   Commands that cross process boundaries are named in a CommandTable
   and encoded with msgpack by the memberlist transport. Delivery
   order between two commands sent to the same member is not
   guaranteed; each inbound command runs on its own goroutine.
*/

package dispatcher
